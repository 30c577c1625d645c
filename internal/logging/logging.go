// Package logging configures the shared logrus instance for the CLI:
// a compact single-line format on stderr plus a rotated debug log file.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var setupOnce sync.Once

// Formatter renders entries as
// [2026-08-29 10:04:12] [a1b2c3d4] [warn ] [provider.go:87] message
// where the second column is the request id when a call carries one.
type Formatter struct{}

// Format renders a single log entry.
func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%s] [%s:%d] %s\n",
			timestamp, reqID, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] [%s] %s\n", timestamp, reqID, levelStr, message)
	}
	return buffer.Bytes(), nil
}

// Setup configures the global logger once: custom formatter, caller
// reporting, and rotation of the debug log file under logDir. An empty
// logDir logs to stderr only.
func Setup(logDir string, level log.Level) {
	setupOnce.Do(func() {
		log.SetFormatter(&Formatter{})
		log.SetReportCaller(true)
		log.SetLevel(level)

		if logDir == "" {
			log.SetOutput(os.Stderr)
			return
		}
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "lmi.log"),
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stderr, rotated))
	})
}

// DefaultDir returns the per-user log directory.
func DefaultDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "lmi", "logs")
}
