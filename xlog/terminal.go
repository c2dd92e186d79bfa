package xlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"log/slog"
)

// levelColor mirrors go-ethereum's terminal handler convention: a fixed
// color per level, used only when the destination is a real TTY.
var levelColor = map[slog.Level]*color.Color{
	LevelTrace: color.New(color.FgHiBlack),
	LevelDebug: color.New(color.FgBlue),
	LevelInfo:  color.New(color.FgGreen),
	LevelWarn:  color.New(color.FgYellow),
	LevelError: color.New(color.FgRed),
	LevelCrit:  color.New(color.FgHiRed, color.Bold),
}

var levelLabel = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelCrit:  "CRIT",
}

// terminalHandler formats records as
// "LEVEL [timestamp] message key=value... caller=file:line", colorizing the level
// label when writing to an interactive terminal. Grounded on
// go-ethereum's log.NewTerminalHandlerWithLevel (log/logger_test.go
// exercises exactly this "LEVEL [ts] msg k=v" shape).
type terminalHandler struct {
	mu       sync.Mutex
	w        io.Writer
	useColor bool
	attrs    []slog.Attr
	level    Level
}

// NewTerminalHandler returns a slog.Handler writing human-readable lines to
// w (os.Stderr if nil). useColor forces coloring; pass false to also get
// an automatic isatty-based decision when w is *os.File.
func NewTerminalHandler(w io.Writer, useColor bool) slog.Handler {
	if w == nil {
		w = os.Stderr
	}
	auto := useColor
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		auto = true
	}
	out := w
	if _, isFile := w.(*os.File); auto && isFile {
		out = colorable.NewColorable(asFile(w))
	}
	return &terminalHandler{w: out, useColor: auto, level: LevelTrace}
}

func asFile(w io.Writer) *os.File {
	if f, ok := w.(*os.File); ok {
		return f
	}
	return os.Stderr
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	label, ok := levelLabel[r.Level]
	if !ok {
		label = r.Level.String()
	}
	if h.useColor {
		if c, ok := levelColor[r.Level]; ok {
			label = c.Sprint(label)
		}
	}

	caller := callerFrame()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] %-40s", label, time.Now().Format("01-02|15:04:05.000"), r.Message)

	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})
	sort.Strings(attrs)
	for _, a := range attrs {
		sb.WriteByte(' ')
		sb.WriteString(a)
	}
	if caller != "" {
		sb.WriteString(" caller=")
		sb.WriteString(caller)
	}
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	combined := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	combined = append(combined, h.attrs...)
	combined = append(combined, attrs...)
	return &terminalHandler{w: h.w, useColor: h.useColor, attrs: combined, level: h.level}
}

func (h *terminalHandler) WithGroup(_ string) slog.Handler {
	return h // groups are flattened; this module's log lines stay shallow
}

// callerFrame returns the first call-site frame outside this package and
// the stdlib log/slog machinery, via github.com/go-stack/stack — the same
// caller-capture library go-ethereum's log package depends on.
func callerFrame() string {
	trace := stack.Trace().TrimRuntime()
	for _, c := range trace {
		s := fmt.Sprintf("%+v", c)
		if strings.Contains(s, "/xlog/") || strings.Contains(s, "log/slog") {
			continue
		}
		return s
	}
	return ""
}
