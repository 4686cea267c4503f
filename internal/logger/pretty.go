package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 1024)
		return &b
	},
}

// PrettyHandler is a slog.Handler for humans at a terminal:
//
//	[2006-01-02 15:04:05] INFO  message key=value group.key=value (file.go:42)
//
// Colors are only emitted when the writer is a terminal.
type PrettyHandler struct {
	opts  slog.HandlerOptions
	w     io.Writer
	mu    *sync.Mutex
	color bool

	// prefix qualifies keys of attributes added after the last WithGroup.
	prefix string
	// preformatted holds the WithAttrs attributes, already qualified.
	preformatted []byte
}

// NewPrettyHandler creates a new PrettyHandler.
func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &PrettyHandler{
		opts:  *opts,
		w:     w,
		mu:    &sync.Mutex{},
		color: isTerminal(w),
	}
}

// SetColor forces colored output on or off.
func (h *PrettyHandler) SetColor(on bool) { h.color = on }

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) paint(buf []byte, code string) []byte {
	if h.color {
		buf = append(buf, code...)
	}
	return buf
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	bp := bufPool.Get().(*[]byte)
	buf := (*bp)[:0]
	defer func() {
		*bp = buf
		bufPool.Put(bp)
	}()

	if !r.Time.IsZero() {
		buf = h.paint(buf, colorGray)
		buf = append(buf, '[')
		buf = r.Time.AppendFormat(buf, time.DateTime)
		buf = append(buf, ']')
		buf = h.paint(buf, colorReset)
		buf = append(buf, ' ')
	}

	buf = h.paint(buf, levelColor(r.Level))
	buf = h.paint(buf, colorBold)
	buf = append(buf, padLevel(r.Level.String())...)
	buf = h.paint(buf, colorReset)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)

	mark := len(buf)
	buf = h.paint(buf, colorCyan)
	start := len(buf)
	buf = append(buf, h.preformatted...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, a, h.prefix)
		return true
	})
	if len(buf) == start {
		buf = buf[:mark]
	} else {
		buf = h.paint(buf, colorReset)
	}

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			buf = h.paint(buf, colorGray)
			buf = append(buf, " ("...)
			buf = append(buf, filepath.Base(frame.File)...)
			buf = append(buf, ':')
			buf = strconv.AppendInt(buf, int64(frame.Line), 10)
			buf = append(buf, ')')
			buf = h.paint(buf, colorReset)
		}
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.preformatted = append([]byte(nil), h.preformatted...)
	for _, a := range attrs {
		h2.preformatted = h.appendAttr(h2.preformatted, a, h.prefix)
	}
	return &h2
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorBlue
	default:
		return colorGray
	}
}

// padLevel pads to the width of "DEBUG" so messages line up.
func padLevel(level string) string {
	if len(level) < 5 {
		return level + "     "[:5-len(level)]
	}
	return level
}

// appendAttr writes " key=value" with key qualified by prefix. Groups are
// flattened into dotted keys and empty attributes are dropped.
func (h *PrettyHandler) appendAttr(buf []byte, a slog.Attr, prefix string) []byte {
	a.Value = a.Value.Resolve()
	if rep := h.opts.ReplaceAttr; rep != nil && a.Value.Kind() != slog.KindGroup {
		a = rep(nil, a)
		a.Value = a.Value.Resolve()
	}
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if len(group) == 0 {
			return buf
		}
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range group {
			buf = h.appendAttr(buf, ga, prefix)
		}
		return buf
	}

	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	switch a.Value.Kind() {
	case slog.KindString:
		s := a.Value.String()
		if needsQuoting(s) {
			buf = strconv.AppendQuote(buf, s)
		} else {
			buf = append(buf, s...)
		}
	case slog.KindTime:
		buf = a.Value.Time().AppendFormat(buf, time.RFC3339)
	case slog.KindDuration:
		buf = append(buf, a.Value.Duration().String()...)
	case slog.KindFloat64:
		buf = strconv.AppendFloat(buf, a.Value.Float64(), 'g', -1, 64)
	case slog.KindInt64:
		buf = strconv.AppendInt(buf, a.Value.Int64(), 10)
	case slog.KindUint64:
		buf = strconv.AppendUint(buf, a.Value.Uint64(), 10)
	case slog.KindBool:
		buf = strconv.AppendBool(buf, a.Value.Bool())
	default:
		if err, ok := a.Value.Any().(error); ok {
			buf = strconv.AppendQuote(buf, err.Error())
			break
		}
		s := fmt.Sprint(a.Value.Any())
		if needsQuoting(s) {
			buf = strconv.AppendQuote(buf, s)
		} else {
			buf = append(buf, s...)
		}
	}
	return buf
}

func needsQuoting(s string) bool {
	for _, c := range s {
		if c == ' ' || c == '\t' || c == '\n' || c == '"' || c == '=' {
			return true
		}
	}
	return false
}
