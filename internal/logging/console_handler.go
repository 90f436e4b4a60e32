package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const logTimestampLayout = "2006-01-02 15:04:05"

// prettyHandler renders one human-readable line per record. Attributes
// added through WithAttrs are flattened once, when the child is built.
type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	preset    []kv
	groups    []string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}

	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	kvs := make([]kv, len(h.preset), len(h.preset)+record.NumAttrs())
	copy(kvs, h.preset)
	record.Attrs(func(attr slog.Attr) bool {
		kvs = appendFlat(kvs, h.groups, attr)
		return true
	})
	kvs = lastValueWins(kvs)

	var head header
	fields := make([]kv, 0, len(kvs))
	for _, kv := range kvs {
		if head.promote(kv) {
			continue
		}
		fields = append(fields, kv)
	}

	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	var buf bytes.Buffer
	buf.Grow(256 + len(fields)*32)
	buf.WriteString(timestamp.In(time.Local).Format(logTimestampLayout))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(record.Level))
	head.writeTo(&buf)
	buf.WriteString(" - ")
	buf.WriteString(message)
	if h.addSource {
		if src := record.Source(); src != nil {
			buf.WriteString(" [")
			buf.WriteString(filepath.Base(src.File))
			buf.WriteByte(':')
			buf.WriteString(strconv.Itoa(src.Line))
			buf.WriteByte(']')
		}
	}
	for _, kv := range fields {
		buf.WriteByte(' ')
		buf.WriteString(kv.key)
		buf.WriteByte('=')
		if kv.key == FieldCostUSD && kv.value.Kind() == slog.KindFloat64 {
			buf.WriteString("$" + strconv.FormatFloat(kv.value.Float64(), 'f', 4, 64))
			continue
		}
		buf.WriteString(formatValue(kv.value))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// header holds the fields promoted out of key=value pairs into the line
// prefix: "[component] queue/job artifact (stage)".
type header struct {
	component, queue, job, artifact, stage string
}

func (h *header) promote(field kv) bool {
	var dst *string
	switch field.key {
	case FieldComponent:
		dst = &h.component
	case FieldQueue:
		dst = &h.queue
	case FieldJobID:
		dst = &h.job
	case FieldArtifactID:
		dst = &h.artifact
	case FieldStage:
		dst = &h.stage
	default:
		return false
	}
	*dst = strings.TrimSpace(attrString(field.value))
	return true
}

func (h header) writeTo(buf *bytes.Buffer) {
	if h.component != "" {
		buf.WriteString(" [" + h.component + "]")
	}
	switch {
	case h.queue != "" && h.job != "":
		buf.WriteString(" " + h.queue + "/" + h.job)
	case h.job != "":
		buf.WriteString(" job " + h.job)
	case h.queue != "":
		buf.WriteString(" " + h.queue)
	}
	if h.artifact != "" {
		buf.WriteString(" artifact " + shortID(h.artifact))
	}
	if h.stage != "" {
		buf.WriteString(" (" + h.stage + ")")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	child := h.child()
	for _, attr := range attrs {
		child.preset = appendFlat(child.preset, child.groups, attr)
	}
	return child
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	child := h.child()
	child.groups = append(child.groups, name)
	return child
}

func (h *prettyHandler) child() *prettyHandler {
	c := *h
	c.preset = slices.Clone(h.preset)
	c.groups = slices.Clone(h.groups)
	return &c
}

type kv struct {
	key   string
	value slog.Value
}

// lastValueWins drops repeated keys, keeping the first position and the
// latest value.
func lastValueWins(fields []kv) []kv {
	if len(fields) < 2 {
		return fields
	}
	seen := make(map[string]int, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if at, dup := seen[f.key]; dup {
			out[at].value = f.value
			continue
		}
		seen[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

// appendFlat expands groups into dotted keys.
func appendFlat(dst []kv, groups []string, attr slog.Attr) []kv {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		if attr.Key != "" {
			groups = append(slices.Clone(groups), attr.Key)
		}
		for _, member := range value.Group() {
			dst = appendFlat(dst, groups, member)
		}
		return dst
	}
	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return append(dst, kv{key: key, value: value})
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
