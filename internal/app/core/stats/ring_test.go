package stats

import "testing"

func TestRing_AddAndAll(t *testing.T) {
	r := NewRing(3)
	r.Add(1)
	r.Add(2)
	r.Add(3)

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0] != 1 || all[2] != 3 {
		t.Errorf("unexpected order: %v", all)
	}
}

func TestRing_OverwritesOldestWhenFull(t *testing.T) {
	r := NewRing(2)
	r.Add(1)
	r.Add(2)
	r.Add(3)

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0] != 2 || all[1] != 3 {
		t.Errorf("expected [2 3], got %v", all)
	}
}

func TestRing_RecentNewestFirst(t *testing.T) {
	r := NewRing(5)
	r.Add("a")
	r.Add("b")
	r.Add("c")

	recent := r.Recent(2)
	if len(recent) != 2 || recent[0] != "c" || recent[1] != "b" {
		t.Errorf("expected [c b], got %v", recent)
	}
}

func TestRing_RecentClampsToSize(t *testing.T) {
	r := NewRing(5)
	r.Add(1)
	recent := r.Recent(10)
	if len(recent) != 1 {
		t.Errorf("expected 1 entry, got %d", len(recent))
	}
}

func TestRing_ClearResetsWithoutReallocating(t *testing.T) {
	r := NewRing(3)
	r.Add(1)
	r.Add(2)
	r.Clear()

	if r.Len() != 0 {
		t.Errorf("expected len 0 after clear, got %d", r.Len())
	}
	if r.Cap() != 3 {
		t.Errorf("expected cap unchanged at 3, got %d", r.Cap())
	}

	r.Add("x")
	all := r.All()
	if len(all) != 1 || all[0] != "x" {
		t.Errorf("expected [x] after clear+add, got %v", all)
	}
}
