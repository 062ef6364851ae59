package logging

// Hooks logrus to keep a short in-memory history of recent entries, useful
// for surfacing the last errors after a failed command.

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const historyLimit = 1000

type historyHook struct {
	mu      sync.Mutex
	entries []string
}

func (h *historyHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *historyHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.entries = append(h.entries, line)
	if len(h.entries) > historyLimit {
		h.entries = h.entries[len(h.entries)-historyLimit:]
	}
	h.mu.Unlock()
	return nil
}

var history = &historyHook{}

// Init configures the global logger. Unknown levels fall back to info.
func Init(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logrus.AddHook(history)
}

// Component returns a logger entry tagged with the owning component.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}

// History returns a copy of the recent log lines.
func History() []string {
	history.mu.Lock()
	defer history.mu.Unlock()
	out := make([]string, len(history.entries))
	copy(out, history.entries)
	return out
}
