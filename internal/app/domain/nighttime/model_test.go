package nighttime

import "testing"

func TestEventKinds_AreDistinctStrings(t *testing.T) {
	kinds := []EventKind{EventSessionStarted, EventPhaseStarted, EventTaskCompleted, EventPhaseCompleted, EventSessionFinished}
	seen := make(map[EventKind]bool)
	for _, k := range kinds {
		if seen[k] {
			t.Fatalf("duplicate event kind: %s", k)
		}
		seen[k] = true
	}
}
