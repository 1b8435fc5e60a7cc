// Package bus implements the in-process message bus and peer registry
// (spec §4.F): registration, correlated send/request, and best-effort
// publish/subscribe fan-out across arbiters.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterfabric/cogrt/infrastructure/errors"
	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/internal/app/domain/message"
)

// Peer is anything the bus can deliver a message to. *arbiter.Base
// satisfies this directly.
type Peer interface {
	Name() string
	HandleMessage(ctx context.Context, msg message.Envelope) (map[string]interface{}, error)
}

// registration is a registered peer plus its advertised metadata and
// last-seen heartbeat stamp.
type registration struct {
	peer     Peer
	meta     map[string]interface{}
	lastSeen time.Time
	healthy  bool
}

// Bus is the shared in-process registry, message router, and topic
// fan-out. Concurrent across different arbiters; per-arbiter message
// handling is serialized by Peer.HandleMessage itself, not by the bus.
type Bus struct {
	mu      sync.RWMutex
	peers   map[string]*registration
	subs    map[string][]*subscription
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// New creates an empty Bus.
func New(m *metrics.Metrics, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		peers:   make(map[string]*registration),
		subs:    make(map[string][]*subscription),
		metrics: m,
		logger:  logger,
	}
}

// Register adds name to the registry with its peer and advertised
// metadata. Duplicate names are rejected.
func (b *Bus) Register(name string, peer Peer, meta map[string]interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.peers[name]; exists {
		return fmt.Errorf("bus: peer %q already registered", name)
	}
	b.peers[name] = &registration{
		peer:     peer,
		meta:     meta,
		lastSeen: time.Now(),
		healthy:  true,
	}
	return nil
}

// Unregister removes name from the registry. Idempotent.
func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.peers, name)
}

// Peers lists every registered peer name.
func (b *Bus) Peers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.peers))
	for name := range b.peers {
		names = append(names, name)
	}
	return names
}

func (b *Bus) lookup(name string) (*registration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reg, ok := b.peers[name]
	return reg, ok
}

// Send delivers msg to msg.To synchronously and returns the handler's
// result. Unregistered targets yield PEER_UNKNOWN.
func (b *Bus) Send(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	start := time.Now()
	reg, ok := b.lookup(msg.To)
	if !ok {
		if b.metrics != nil {
			b.metrics.RecordPeerUnknown()
		}
		return nil, errors.PeerUnknown(msg.To)
	}

	result, err := reg.peer.HandleMessage(ctx, msg)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if b.metrics != nil {
		b.metrics.RecordBusMessage(msg.Type, status, time.Since(start))
	}
	return result, err
}

// Heartbeat stamps lastSeen for a registered peer. Unregistered names are
// rejected rather than silently accepted.
func (b *Bus) Heartbeat(name string, healthy bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.peers[name]
	if !ok {
		return errors.PeerUnknown(name)
	}
	reg.lastSeen = time.Now()
	reg.healthy = healthy
	return nil
}

// LastSeen returns the last heartbeat time for a registered peer, or the
// zero time if unregistered.
func (b *Bus) LastSeen(name string) time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if reg, ok := b.peers[name]; ok {
		return reg.lastSeen
	}
	return time.Time{}
}

// Request sends a correlated request to `to` and waits up to timeout for
// the handler's result. Expiry yields TIMEOUT.
func (b *Bus) Request(ctx context.Context, to, msgType string, payload map[string]interface{}, timeout time.Duration) (map[string]interface{}, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := message.Envelope{
		ID:            uuid.New().String(),
		From:          message.SystemSentinel,
		To:            to,
		Type:          msgType,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: uuid.New().String(),
	}

	type outcome struct {
		result map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := b.Send(tctx, msg)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-tctx.Done():
		return nil, errors.Timeout("bus.request", timeout.Milliseconds())
	}
}
