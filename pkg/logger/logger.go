// Package logger provides leveled, component-scoped logging for the sync
// engine. Output goes to stderr by default; SetOutput redirects it (the watch
// command points it at a file so log lines don't tear the interactive prompt).
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Level int32

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	level atomic.Int32
	mu    sync.Mutex
	out   io.Writer = os.Stderr
)

func init() {
	level.Store(int32(INFO))
}

// SetLevel sets the global minimum level.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// SetOutput redirects log output. Pass os.Stderr to restore the default.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func logf(l Level, component, msg string, fields map[string]any) {
	if int32(l) < level.Load() {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteString(" [")
	b.WriteString(levelNames[l])
	b.WriteString("] ")
	if component != "" {
		b.WriteString(component)
		b.WriteString(": ")
	}
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteString("\n")

	mu.Lock()
	defer mu.Unlock()
	io.WriteString(out, b.String())
}

func DebugC(component, msg string) { logf(DEBUG, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]any) { logf(DEBUG, component, msg, fields) }

func InfoC(component, msg string) { logf(INFO, component, msg, nil) }

func InfoCF(component, msg string, fields map[string]any) { logf(INFO, component, msg, fields) }

func WarnC(component, msg string) { logf(WARN, component, msg, nil) }

func WarnCF(component, msg string, fields map[string]any) { logf(WARN, component, msg, fields) }

func ErrorC(component, msg string) { logf(ERROR, component, msg, nil) }

func ErrorCF(component, msg string, fields map[string]any) { logf(ERROR, component, msg, fields) }
