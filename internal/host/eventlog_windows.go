//go:build windows

package host

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
)

// Event identifiers written to the Application log.
const (
	eventInfo    = 1
	eventWarning = 2
	eventError   = 3
)

// NewLogHandler returns a handler that writes to the Windows event log
// under source name when running as a service, and fallback otherwise.
// The returned func closes the event log.
func NewLogHandler(name string, fallback slog.Handler) (slog.Handler, func() error, error) {
	noop := func() error { return nil }
	if ok, err := svc.IsWindowsService(); err != nil || !ok {
		return fallback, noop, err
	}
	elog, err := eventlog.Open(name)
	if err != nil {
		return fallback, noop, err
	}
	var buf bytes.Buffer
	h := &eventlogHandler{
		mu:   &sync.Mutex{},
		buf:  &buf,
		text: slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: levelOf(fallback)}),
		elog: elog,
	}
	return h, elog.Close, nil
}

// levelOf finds the lowest level fallback accepts.
func levelOf(h slog.Handler) slog.Level {
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if h.Enabled(context.Background(), l) {
			return l
		}
	}
	return slog.LevelError
}

// eventlogHandler formats records as text and writes each one as an event.
type eventlogHandler struct {
	mu   *sync.Mutex
	buf  *bytes.Buffer
	text slog.Handler
	elog *eventlog.Log
}

func (h *eventlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.text.Enabled(ctx, level)
}

func (h *eventlogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.text.Handle(ctx, r); err != nil {
		return err
	}
	msg := string(bytes.TrimRight(h.buf.Bytes(), "\n"))

	switch {
	case r.Level >= slog.LevelError:
		return h.elog.Error(eventError, msg)
	case r.Level >= slog.LevelWarn:
		return h.elog.Warning(eventWarning, msg)
	default:
		return h.elog.Info(eventInfo, msg)
	}
}

func (h *eventlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &eventlogHandler{mu: h.mu, buf: h.buf, text: h.text.WithAttrs(attrs), elog: h.elog}
}

func (h *eventlogHandler) WithGroup(name string) slog.Handler {
	return &eventlogHandler{mu: h.mu, buf: h.buf, text: h.text.WithGroup(name), elog: h.elog}
}
