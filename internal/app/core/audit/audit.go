// Package audit implements the per-arbiter bounded, queryable event ring
// (spec §4.D). Unlike infrastructure/logging (operational logs for humans),
// an audit.Log is owned by a single arbiter and queried programmatically
// through GetLogs.
package audit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
)

// Level is the audit event severity, ordered from most to least severe.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

// Event is one structured audit entry.
type Event struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Context   map[string]interface{}
	TraceID   string
	Peer      string
}

// Sink receives every event regardless of level gate, for external
// consumers (metrics scrapers, the nighttime session feed).
type Sink interface {
	Emit(Event)
}

// Log is a level-gated, bounded ring of audit events. No output reaches
// stdout by default; a zerolog writer is used only when an external sink
// asks to bridge onto structured log output.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
	minLevel Level
	sinks    []Sink
	peer     string
	zl       zerolog.Logger
}

// Config controls a Log's capacity and gate level.
type Config struct {
	Capacity int
	MinLevel Level
	Peer     string
}

// New creates a Log for the named peer (arbiter). Capacity <= 0 defaults to
// 500; MinLevel defaults to LevelInfo (trace/debug suppressed unless
// explicitly requested).
func New(cfg Config) *Log {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 500
	}
	if cfg.MinLevel == 0 {
		cfg.MinLevel = LevelInfo
	}
	return &Log{
		capacity: cfg.Capacity,
		minLevel: cfg.MinLevel,
		peer:     cfg.Peer,
		zl:       zerolog.New(io.Discard).With().Timestamp().Logger(),
	}
}

// Bridge redirects the log's internal zerolog writer to w, letting an
// operator opt into structured stdout/file output for one arbiter's audit
// stream without affecting the ring's default silence.
func (l *Log) Bridge(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zl = zerolog.New(w).With().Timestamp().Str("peer", l.peer).Logger()
}

// AddSink registers an external sink that receives every future event.
func (l *Log) AddSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Log records one event, attaching a trace id from ctx if present. Events
// below the configured MinLevel severity (i.e. with a higher ordinal) are
// dropped from the ring but still forwarded to sinks, since a sink may
// want full fidelity (e.g. the nighttime progress feed).
func (l *Log) Log(ctx context.Context, level Level, msg string, fields map[string]interface{}) {
	evt := Event{
		Timestamp: time.Now(),
		Level:     level,
		Message:   msg,
		Context:   fields,
		TraceID:   logging.GetTraceID(ctx),
		Peer:      l.peer,
	}

	l.mu.Lock()
	if level <= l.minLevel {
		l.events = append(l.events, evt)
		if len(l.events) > l.capacity {
			l.events = l.events[len(l.events)-l.capacity:]
		}
	}
	sinks := append([]Sink(nil), l.sinks...)
	zl := l.zl
	l.mu.Unlock()

	zlEvt := zl.WithLevel(zerologLevel(level)).Str("trace_id", evt.TraceID)
	for k, v := range fields {
		zlEvt = zlEvt.Interface(k, v)
	}
	zlEvt.Msg(msg)

	for _, s := range sinks {
		s.Emit(evt)
	}
}

// Filter selects events matching all of its non-zero fields.
type Filter struct {
	Level    *Level
	Since    time.Time
	Peer     string
}

// GetLogs returns ring events matching filter, oldest first.
func (l *Log) GetLogs(filter Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0, len(l.events))
	for _, e := range l.events {
		if filter.Level != nil && e.Level > *filter.Level {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if filter.Peer != "" && e.Peer != filter.Peer {
			continue
		}
		out = append(out, e)
	}
	return out
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// Len returns the number of events currently retained in the ring.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
