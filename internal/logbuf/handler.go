package logbuf

import (
	"context"
	"log/slog"
)

// Handler mirrors every record it handles into a Buffer before passing it
// to the wrapped handler.
type Handler struct {
	next   slog.Handler
	buf    *Buffer
	attrs  []slog.Attr
	groups []string
}

func NewHandler(next slog.Handler, buf *Buffer) *Handler {
	return &Handler{next: next, buf: buf}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.buf != nil {
		h.buf.Append(h.entry(r))
	}
	return h.next.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, h.qualify(a))
	}
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func (h *Handler) entry(r slog.Record) Entry {
	e := Entry{Time: r.Time, Level: r.Level.String(), Message: r.Message}
	if len(h.attrs) == 0 && r.NumAttrs() == 0 {
		return e
	}
	e.Attrs = make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addAttr(e.Attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(e.Attrs, "", h.qualify(a))
		return true
	})
	return e
}

func (h *Handler) qualify(a slog.Attr) slog.Attr {
	for i := len(h.groups) - 1; i >= 0; i-- {
		a = slog.Attr{Key: h.groups[i], Value: slog.GroupValue(a)}
	}
	return a
}

// addAttr flattens groups into dotted keys.
func addAttr(dst map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			addAttr(dst, key, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	switch v.Kind() {
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			dst[key] = err.Error()
			return
		}
		dst[key] = v.Any()
	case slog.KindDuration:
		dst[key] = v.Duration().String()
	case slog.KindTime:
		dst[key] = v.Time()
	default:
		dst[key] = v.Any()
	}
}
