// Package logx is a thin slog wrapper used only for translator
// diagnostics (block compiled, block invalidated, translation
// fallback) — never called from the hot execution path the runtime
// trampoline runs per-block.
//
// Grounded on
// _examples/rcornwell-S370/util/logger's LogHandler: a slog.Handler
// that formats "time level message attrs..." to an io.Writer, with a
// debug flag that also tees to stderr.
package logx

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Handler formats records as "time level message attrs..." on one
// line, the way the pack's logger wrapper does, so translator
// diagnostics read the same whether they land in a file or a test's
// buffer.
type Handler struct {
	out   io.Writer
	h     slog.Handler
	mu    *sync.Mutex
	debug bool
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.h.Enabled(ctx, level)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithAttrs(attrs), mu: h.mu, debug: h.debug}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{out: h.out, h: h.h.WithGroup(name), mu: h.mu, debug: h.debug}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	parts := []string{r.Time.Format("2006/01/02 15:04:05"), r.Level.String() + ":", r.Message}
	r.Attrs(func(a slog.Attr) bool {
		parts = append(parts, a.String())
		return true
	})
	line := []byte(strings.Join(parts, " ") + "\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	if h.out != nil {
		_, err = h.out.Write(line)
	}
	if h.debug {
		_, err = os.Stderr.Write(line)
	}
	return err
}

// New builds a *slog.Logger over a Handler writing to w. debug also
// echoes every record to stderr, useful when w is a translation log
// file the embedder otherwise keeps quiet.
func New(w io.Writer, level slog.Level, debug bool) *slog.Logger {
	return slog.New(&Handler{
		out:   w,
		h:     slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}),
		mu:    &sync.Mutex{},
		debug: debug,
	})
}

// Discard is a logger that drops everything, the default for an
// embedder that never supplies one.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
