// Package trace provides the structured event type the node logs for
// each dispatcher event it passes to the host Event callback (the host
// callback itself receives the dispatcher's EventKind and payload),
// plus a slog logger
// construction helper in the house style (tint to stderr, optionally
// fanned out to a plain file handler via slog-multi).
package trace

import (
	"log/slog"
	"os"
	"path"

	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// Kind identifies the category of a trace event, mirroring the small
// stable-integer convention the wire format and DropReason use rather
// than a free-form string.
type Kind uint8

const (
	KindPacketAccepted Kind = iota
	KindPacketDropped
	KindPacketRelayed
	KindVerbDispatched
	KindPeerLearned
	KindPeerExpired
	KindWhoisResolved
	KindPathLearned
	KindRootUpdated
)

func (k Kind) String() string {
	switch k {
	case KindPacketAccepted:
		return "packet-accepted"
	case KindPacketDropped:
		return "packet-dropped"
	case KindPacketRelayed:
		return "packet-relayed"
	case KindVerbDispatched:
		return "verb-dispatched"
	case KindPeerLearned:
		return "peer-learned"
	case KindPeerExpired:
		return "peer-expired"
	case KindWhoisResolved:
		return "whois-resolved"
	case KindPathLearned:
		return "path-learned"
	case KindRootUpdated:
		return "root-updated"
	default:
		return "unknown"
	}
}

// Event is a structured pipeline decision: what kind of thing
// happened, where in the pipeline it happened, and whatever typed
// context fields are relevant (peer address, drop reason, verb, ...).
type Event struct {
	Kind     Kind
	Location string
	Fields   map[string]any
}

// Logger wraps the process-wide slog.Logger so the dispatcher and
// topology packages can log an Event as a structured log line without
// importing log/slog directly in the hot path.
type Logger struct {
	log *slog.Logger
}

// NewLogger builds the process logger: colorized tint output to
// stderr always, plus a plain text handler appending to logPath when
// one is configured. Mirrors the teacher's two-handler slogmulti.Fanout
// construction, generalized from a single hardcoded node-ID prefix to
// a caller-supplied one.
func NewLogger(prefix string, level slog.Level, logPath string) (*Logger, error) {
	handlers := []slog.Handler{
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: prefix,
		}),
	}

	if logPath != "" {
		if err := os.MkdirAll(path.Dir(logPath), 0700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0700)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}

	return &Logger{log: slog.New(slogmulti.Fanout(handlers...))}, nil
}

// Emit logs ev at a level derived from its Kind: drops and expirations
// are warnings, everything else is informational/debug depending on
// frequency.
func (l *Logger) Emit(ev Event) {
	if l == nil {
		return
	}
	args := make([]any, 0, 2*len(ev.Fields)+2)
	args = append(args, "at", ev.Location)
	for k, v := range ev.Fields {
		args = append(args, k, v)
	}

	switch ev.Kind {
	case KindPacketDropped, KindPeerExpired:
		l.log.Warn(ev.Kind.String(), args...)
	case KindPacketAccepted, KindVerbDispatched:
		l.log.Debug(ev.Kind.String(), args...)
	default:
		l.log.Info(ev.Kind.String(), args...)
	}
}

// Slog exposes the underlying logger for components that want to log
// outside the Event convention (startup, shutdown, config errors).
func (l *Logger) Slog() *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l.log
}
