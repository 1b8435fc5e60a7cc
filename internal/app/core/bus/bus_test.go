package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arbiterfabric/cogrt/infrastructure/errors"
	"github.com/arbiterfabric/cogrt/internal/app/domain/message"
)

type stubPeer struct {
	name    string
	handled []message.Envelope
	result  map[string]interface{}
	err     error
	delay   time.Duration
}

func (p *stubPeer) Name() string { return p.name }

func (p *stubPeer) HandleMessage(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.handled = append(p.handled, msg)
	return p.result, p.err
}

func TestRegister_RejectsDuplicateNames(t *testing.T) {
	b := New(nil, nil)
	require.NoError(t, b.Register("planner-1", &stubPeer{name: "planner-1"}, nil))
	require.Error(t, b.Register("planner-1", &stubPeer{name: "planner-1"}, nil))
}

func TestSend_DeliversToRegisteredPeer(t *testing.T) {
	b := New(nil, nil)
	peer := &stubPeer{name: "planner-1", result: map[string]interface{}{"ok": true}}
	require.NoError(t, b.Register("planner-1", peer, nil))

	result, err := b.Send(context.Background(), message.Envelope{To: "planner-1", Type: "ping"})
	require.NoError(t, err)
	require.Equal(t, true, result["ok"])
	require.Len(t, peer.handled, 1)
}

func TestSend_UnknownPeerYieldsPeerUnknown(t *testing.T) {
	b := New(nil, nil)
	_, err := b.Send(context.Background(), message.Envelope{To: "ghost", Type: "ping"})
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodePeerUnknown))
}

func TestHeartbeat_RejectsUnregisteredPeer(t *testing.T) {
	b := New(nil, nil)
	err := b.Heartbeat("ghost", true)
	require.Error(t, err)
}

func TestHeartbeat_StampsLastSeenForRegisteredPeer(t *testing.T) {
	b := New(nil, nil)
	require.NoError(t, b.Register("planner-1", &stubPeer{name: "planner-1"}, nil))
	before := b.LastSeen("planner-1")
	time.Sleep(time.Millisecond)
	require.NoError(t, b.Heartbeat("planner-1", true))
	require.True(t, b.LastSeen("planner-1").After(before))
}

func TestRequest_TimesOutOnSlowHandler(t *testing.T) {
	b := New(nil, nil)
	require.NoError(t, b.Register("slow", &stubPeer{name: "slow", delay: 50 * time.Millisecond}, nil))

	_, err := b.Request(context.Background(), "slow", "ping", nil, 5*time.Millisecond)
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeTimeout))
}

func TestRequest_SucceedsWithinTimeout(t *testing.T) {
	b := New(nil, nil)
	peer := &stubPeer{name: "fast", result: map[string]interface{}{"ok": true}}
	require.NoError(t, b.Register("fast", peer, nil))

	result, err := b.Request(context.Background(), "fast", "ping", nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, true, result["ok"])
}

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	b := New(nil, nil)
	ch1 := b.Subscribe("sub-1", "topic-a")
	ch2 := b.Subscribe("sub-2", "topic-a")

	b.Publish("pub-1", "topic-a", map[string]interface{}{"n": 1})

	select {
	case msg := <-ch1:
		require.Equal(t, "topic-a", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("sub-1 did not receive publish")
	}
	select {
	case msg := <-ch2:
		require.Equal(t, "topic-a", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("sub-2 did not receive publish")
	}
}

func TestPublish_DoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	b := New(nil, nil)
	b.Subscribe("slow-sub", "topic-b")

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriptionBuffer+10; i++ {
			b.Publish("pub-1", "topic-b", map[string]interface{}{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	b := New(nil, nil)
	ch := b.Subscribe("sub-1", "topic-c")
	b.Unsubscribe("sub-1", "topic-c")

	_, ok := <-ch
	require.False(t, ok)
}
