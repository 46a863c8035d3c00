package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	INFO Level = iota
	WARN
	ERROR
	DEBUG
)

var (
	// ANSI colors
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"

	out io.Writer = os.Stdout

	// Entry stream for the dashboard (optional)
	stream   chan Entry
	streamMu sync.RWMutex

	debugEnabled bool
)

// Entry is a structured log message, streamed to the dashboard when a
// stream channel is attached.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Init sets up the logger. Honors NO_COLOR and HLS_DEBUG.
func Init() {
	if os.Getenv("NO_COLOR") != "" {
		DisableColors()
	}
	if os.Getenv("HLS_DEBUG") != "" {
		debugEnabled = true
	}
}

func DisableColors() {
	colorReset = ""
	colorRed = ""
	colorGreen = ""
	colorYellow = ""
	colorGray = ""
	colorCyan = ""
}

// SetStream attaches a channel that receives structured entries
// (e.g. for the dashboard live log view).
func SetStream(ch chan Entry) {
	streamMu.Lock()
	defer streamMu.Unlock()
	stream = ch
}

func log(level Level, component string, format string, args ...interface{}) {
	if level == DEBUG && !debugEnabled {
		return
	}

	now := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)

	var levelStr string
	var color string
	switch level {
	case INFO:
		levelStr = "INFO"
		color = colorGreen
	case WARN:
		levelStr = "WARN"
		color = colorYellow
	case ERROR:
		levelStr = "ERROR"
		color = colorRed
	case DEBUG:
		levelStr = "DEBUG"
		color = colorGray
	}

	fmt.Fprintf(out, "%s[%s]%s %s[%s]%s %s[%s]%s: %s\n",
		colorGray, now, colorReset,
		color, levelStr, colorReset,
		colorCyan, component, colorReset,
		msg,
	)

	streamMu.RLock()
	if stream != nil {
		select {
		case stream <- Entry{Timestamp: now, Level: levelStr, Component: component, Message: msg}:
		default:
			// Drop entry if the stream is full
		}
	}
	streamMu.RUnlock()
}

func Info(component string, format string, args ...interface{}) {
	log(INFO, component, format, args...)
}

func Warn(component string, format string, args ...interface{}) {
	log(WARN, component, format, args...)
}

func Error(component string, format string, args ...interface{}) {
	log(ERROR, component, format, args...)
}

func Debug(component string, format string, args ...interface{}) {
	log(DEBUG, component, format, args...)
}
