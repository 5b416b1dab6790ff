// Package logging builds the supervisor's zap.Logger against the wire log
// format the external contract requires: "<name>: <level>: <text>", followed
// by any attached fields as " key=value" pairs and a final "\n", with every
// non-printable byte stripped before emission.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// lineEncoder implements zapcore.Encoder directly against the wire
// contract, rather than configuring zapcore.NewConsoleEncoder, because the
// format is an external requirement and not a development convenience:
// level text is the bare word INFO/WARNING/ERROR (or DEBUG when the core is
// at debug level), there is no timestamp or
// caller field, and every byte outside printable ASCII (32..126) must be
// stripped before it ever reaches the sink — a defense against a child
// injecting terminal-control sequences through its stderr.
//
// Context fields accumulated via logger.With(...) are tracked through the
// embedded *zapcore.MapObjectEncoder, whose Fields map EncodeEntry reads
// back out alongside the per-call fields.
type lineEncoder struct {
	*zapcore.MapObjectEncoder
	pool buffer.Pool
}

func newLineEncoder() *lineEncoder {
	return &lineEncoder{
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
		pool:             buffer.NewPool(),
	}
}

func (e *lineEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range e.MapObjectEncoder.Fields {
		clone.Fields[k] = v
	}
	return &lineEncoder{MapObjectEncoder: clone, pool: e.pool}
}

var levelText = map[zapcore.Level]string{
	zapcore.DebugLevel:  "DEBUG",
	zapcore.InfoLevel:   "INFO",
	zapcore.WarnLevel:   "WARNING",
	zapcore.ErrorLevel:  "ERROR",
	zapcore.DPanicLevel: "ERROR",
	zapcore.PanicLevel:  "ERROR",
	zapcore.FatalLevel:  "ERROR",
}

func (e *lineEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	line := e.pool.Get()

	level, ok := levelText[entry.Level]
	if !ok {
		level = "ERROR"
	}

	name := entry.LoggerName
	if name == "" {
		name = "sshtunnels"
	}

	line.AppendString(stripNonPrintable(name))
	line.AppendString(": ")
	line.AppendString(level)
	line.AppendString(": ")
	line.AppendString(stripNonPrintable(entry.Message))

	for k, v := range e.MapObjectEncoder.Fields {
		line.AppendString(" ")
		line.AppendString(stripNonPrintable(k))
		line.AppendString("=")
		line.AppendString(stripNonPrintable(toString(v)))
	}

	callEnc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(callEnc)
	}
	for k, v := range callEnc.Fields {
		line.AppendString(" ")
		line.AppendString(stripNonPrintable(k))
		line.AppendString("=")
		line.AppendString(stripNonPrintable(toString(v)))
	}

	line.AppendString("\n")
	return line, nil
}

// stripNonPrintable removes every byte outside the printable-ASCII range
// 32..126, per the logging contract in SPEC_FULL.md §6.4.
func stripNonPrintable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 32 && c <= 126 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
