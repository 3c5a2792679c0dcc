package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var (
	levelNames = map[Level]string{
		DEBUG: "DEBUG",
		INFO:  "INFO",
		WARN:  "WARN",
		ERROR: "ERROR",
		FATAL: "FATAL",
	}

	levelColors = map[Level]string{
		DEBUG: "\033[36m",
		INFO:  "\033[32m",
		WARN:  "\033[33m",
		ERROR: "\033[31m",
		FATAL: "\033[35m",
	}

	reset = "\033[0m"
	gray  = "\033[90m"
)

// Logger writes leveled, service-tagged lines. Loggers derived with With
// share the parent's output and mutex.
type Logger struct {
	level     Level
	out       io.Writer
	mu        *sync.Mutex
	service   string
	useColors bool
	json      bool
	fields    map[string]any
	exit      func(int)
}

// New builds a logger configured from LOG_LEVEL, LOG_COLORS and LOG_FORMAT.
func New(service string) *Logger {
	l := &Logger{
		level:     ParseLevel(os.Getenv("LOG_LEVEL")),
		out:       os.Stdout,
		mu:        &sync.Mutex{},
		service:   service,
		useColors: os.Getenv("LOG_COLORS") != "false",
		json:      strings.EqualFold(os.Getenv("LOG_FORMAT"), "json"),
		exit:      os.Exit,
	}
	if l.json {
		l.useColors = false
	}
	return l
}

// NewWithWriter is used by tests and tools that need to capture output.
func NewWithWriter(service string, w io.Writer, level Level) *Logger {
	return &Logger{
		level:   level,
		out:     w,
		mu:      &sync.Mutex{},
		service: service,
		exit:    os.Exit,
	}
}

// Nop discards everything.
func Nop() *Logger {
	return NewWithWriter("", io.Discard, FATAL+1)
}

func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// With returns a child logger that appends key=value to every line.
func (l *Logger) With(key string, value any) *Logger {
	child := *l
	child.fields = make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		child.fields[k] = v
	}
	child.fields[key] = value
	return &child
}

func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)
	var line string
	if l.json {
		line = l.jsonLine(level, msg)
	} else {
		line = l.textLine(level, msg)
	}

	l.mu.Lock()
	fmt.Fprintln(l.out, line)
	l.mu.Unlock()

	if level == FATAL {
		l.exit(1)
	}
}

func (l *Logger) textLine(level Level, msg string) string {
	var buf strings.Builder

	buf.WriteString(time.Now().Format("15:04:05"))
	buf.WriteString(" ")

	if l.useColors {
		buf.WriteString(levelColors[level])
	}
	fmt.Fprintf(&buf, "%-5s", levelNames[level])
	if l.useColors {
		buf.WriteString(reset)
	}
	buf.WriteString(" ")

	if l.service != "" {
		if l.useColors {
			buf.WriteString(gray)
		}
		buf.WriteString("[")
		buf.WriteString(l.service)
		buf.WriteString("]")
		if l.useColors {
			buf.WriteString(reset)
		}
		buf.WriteString(" ")
	}

	buf.WriteString(msg)

	for _, k := range l.sortedKeys() {
		fmt.Fprintf(&buf, " %s=%v", k, l.fields[k])
	}
	return buf.String()
}

func (l *Logger) jsonLine(level Level, msg string) string {
	rec := make(map[string]any, len(l.fields)+4)
	for k, v := range l.fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		rec[k] = v
	}
	rec["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	rec["level"] = levelNames[level]
	rec["msg"] = msg
	if l.service != "" {
		rec["service"] = l.service
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf(`{"level":%q,"msg":%q}`, levelNames[level], msg)
	}
	return string(b)
}

func (l *Logger) sortedKeys() []string {
	if len(l.fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Logger) Debug(format string, args ...any) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(ERROR, format, args...)
}

func (l *Logger) Fatal(format string, args ...any) {
	l.log(FATAL, format, args...)
}

// SetStdLog redirects the standard log package to this logger.
func (l *Logger) SetStdLog() {
	log.SetOutput(&stdLogWriter{logger: l})
	log.SetFlags(0)
}

type stdLogWriter struct {
	logger *Logger
}

func (w *stdLogWriter) Write(p []byte) (n int, err error) {
	w.logger.Info("%s", strings.TrimSpace(string(p)))
	return len(p), nil
}
