package logs

import (
	"context"
	"log/slog"
)

// TeeHandler forwards records to the wrapped handler and mirrors them into
// a ring. Attrs bound with WithAttrs are captured alongside the per-record
// ones.
type TeeHandler struct {
	inner slog.Handler
	ring  *Ring
	bound []slog.Attr
}

var _ slog.Handler = (*TeeHandler)(nil)

// NewTeeHandler wraps inner so every record it handles also lands in ring.
func NewTeeHandler(inner slog.Handler, ring *Ring) *TeeHandler {
	return &TeeHandler{inner: inner, ring: ring}
}

func (h *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TeeHandler) Handle(ctx context.Context, rec slog.Record) error {
	attrs := make(map[string]string, rec.NumAttrs()+len(h.bound))
	for _, a := range h.bound {
		attrs[a.Key] = a.Value.String()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	h.ring.Add(Record{
		Time:    rec.Time,
		Level:   rec.Level,
		Message: rec.Message,
		Attrs:   attrs,
	})
	return h.inner.Handle(ctx, rec)
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, 0, len(h.bound)+len(attrs))
	bound = append(bound, h.bound...)
	bound = append(bound, attrs...)
	return &TeeHandler{inner: h.inner.WithAttrs(attrs), ring: h.ring, bound: bound}
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &TeeHandler{inner: h.inner.WithGroup(name), ring: h.ring, bound: h.bound}
}
