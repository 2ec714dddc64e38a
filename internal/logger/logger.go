package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ConsoleHandler renders records as "time | LEVEL | message key=value ..."
// with colored level tags.
type ConsoleHandler struct {
	mu     *sync.Mutex
	writer io.Writer
	attrs  []slog.Attr // keys already qualified by the group open when bound
	group  string
	level  slog.Leveler
}

// NewConsoleHandler creates a handler writing to w at or above level
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	return &ConsoleHandler{
		mu:     &sync.Mutex{},
		writer: w,
		level:  level,
	}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()

	switch {
	case r.Level >= slog.LevelError:
		level = color.RedString(level)
	case r.Level >= slog.LevelWarn:
		level = color.YellowString(level)
	case r.Level >= slog.LevelInfo:
		level = color.BlueString(level)
	default:
		level = color.MagentaString(level)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s | %-5s | %s",
		color.GreenString(r.Time.Format("2006-01-02T15:04:05")),
		level,
		r.Message,
	)

	for _, attr := range h.attrs {
		appendAttr(&b, "", attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		appendAttr(&b, h.group, attr)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func appendAttr(b *strings.Builder, group string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	b.WriteString(color.CyanString(" %s=", qualify(group, attr.Key)))
	b.WriteString(attr.Value.Resolve().String())
}

func qualify(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

// WithAttrs binds attrs under the groups open now; groups opened later do
// not apply to them.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, attr := range attrs {
		attr.Key = qualify(h.group, attr.Key)
		merged = append(merged, attr)
	}

	clone := *h
	clone.attrs = merged
	return &clone
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.group = qualify(h.group, name)
	return &clone
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is treated as info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Setup installs a console handler on stderr as the default logger
func Setup(level string) *slog.Logger {
	logger := slog.New(NewConsoleHandler(os.Stderr, ParseLevel(level)))
	slog.SetDefault(logger)
	return logger
}
