// Package bridgelog provides the structured logger used for supervisor
// lifecycle and reclaim narration. It is deliberately separate from the
// fixed-format contract lines the Handler Facade writes straight to
// standard error — those are parsed by platform log ingestion and must
// never gain a structured prefix.
package bridgelog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
)

// Handler is a slog.Handler that renders one line per record: string
// attributes as `key: "value"`, other attributes as `key value`, rather
// than slog's default key=value or JSON renderings.
type Handler struct {
	level slog.Leveler
	goas  []groupOrAttrs
	mu    *sync.Mutex
	out   io.Writer
}

// NewHandler returns a Handler writing to out at the given minimum level.
// A nil level defaults to Info.
func NewHandler(out io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{level: level, mu: &sync.Mutex{}, out: out}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 1024)
	if !r.Time.IsZero() {
		buf = h.appendAttr(buf, slog.Time(slog.TimeKey, r.Time))
	}
	buf = h.appendAttr(buf, slog.Any("", r.Level))
	if r.PC != 0 {
		fs := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := fs.Next()
		buf = h.appendAttr(buf, slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", f.File, f.Line)))
	}
	buf = h.appendAttr(buf, slog.String(slog.MessageKey, r.Message))

	goas := h.goas
	if r.NumAttrs() == 0 {
		for len(goas) > 0 && goas[len(goas)-1].group != "" {
			goas = goas[:len(goas)-1]
		}
	}
	for _, goa := range goas {
		if goa.group != "" {
			buf = fmt.Appendf(buf, "%s: ", goa.group)
		} else {
			for _, a := range goa.attrs {
				buf = h.appendAttr(buf, a)
			}
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *Handler) appendAttr(buf []byte, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	switch a.Value.Kind() {
	case slog.KindString:
		buf = fmt.Appendf(buf, "%s: %q ", a.Key, a.Value.String())
	case slog.KindTime:
		buf = fmt.Appendf(buf, "%s ", a.Value.Time().Format("2006/01/02 15:04:05.999999"))
	case slog.KindGroup:
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return buf
		}
		if a.Key != "" {
			buf = fmt.Appendf(buf, "%s: ", a.Key)
		}
		for _, ga := range attrs {
			buf = h.appendAttr(buf, ga)
		}
	default:
		buf = fmt.Appendf(buf, "%s %s ", a.Key, a.Value)
	}
	return buf
}

type groupOrAttrs struct {
	group string
	attrs []slog.Attr
}

func (h *Handler) withGroupOrAttrs(goa groupOrAttrs) *Handler {
	h2 := *h
	h2.goas = make([]groupOrAttrs, len(h.goas)+1)
	copy(h2.goas, h.goas)
	h2.goas[len(h2.goas)-1] = goa
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.withGroupOrAttrs(groupOrAttrs{group: name})
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.withGroupOrAttrs(groupOrAttrs{attrs: attrs})
}

// Default returns a logger writing to out (typically os.Stderr) at Info
// level — the bridge process's one structured logger instance, wired in
// once by the runtime-loop or admin-CLI entrypoint and passed down to the
// Supervisor and Handler Facade.
func Default(out io.Writer) *slog.Logger {
	return slog.New(NewHandler(out, slog.LevelInfo))
}
