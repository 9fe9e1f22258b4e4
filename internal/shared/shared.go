// package shared holds configuration, logging, storage bootstrap and the sentinel errors
package shared

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger returns the process logger writing to w, or [os.Stderr] when w is nil.
// Entries carry a timestamp and the calling file.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    true,
		TimeFormat:      time.DateTime,
	})
}

// SetLogLevel applies level (debug, info, warn, error) to l. An empty level keeps the current one.
func SetLogLevel(l *log.Logger, level string) error {
	if level == "" {
		return nil
	}
	ll, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	l.SetLevel(ll)
	return nil
}

// GenerateID returns a random v4 UUID. Used for run ids, request ids and OAuth state tokens.
func GenerateID() string {
	return uuid.NewString()
}
