package logger

import (
	"fmt"
	"strings"
)

// Leveled adapts a Logger to the key/value style used by go-retryablehttp
// (its LeveledLogger interface).
type Leveled struct {
	L Logger
}

func (a Leveled) Error(msg string, keysAndValues ...interface{}) {
	a.L.Error("%s", joinKV(msg, keysAndValues))
}

func (a Leveled) Warn(msg string, keysAndValues ...interface{}) {
	a.L.Warn("%s", joinKV(msg, keysAndValues))
}

func (a Leveled) Info(msg string, keysAndValues ...interface{}) {
	a.L.Debug("%s", joinKV(msg, keysAndValues))
}

func (a Leveled) Debug(msg string, keysAndValues ...interface{}) {
	a.L.Debug("%s", joinKV(msg, keysAndValues))
}

// joinKV renders "msg k1=v1 k2=v2". An odd trailing key is printed alone.
func joinKV(msg string, kv []interface{}) string {
	if len(kv) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, "%v", kv[i])
		}
	}
	return b.String()
}

// LineWriter is an io.Writer that forwards each written line to a Logger at
// info level. The simulator routes gin's request log through it.
type LineWriter struct {
	L Logger
}

func (w LineWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			w.L.Info("%s", line)
		}
	}
	return len(p), nil
}
