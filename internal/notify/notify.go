package notify

import "zakobox-go/internal/logging"

// Notifier receives user-facing progress and outcome messages from the
// workflows. Workflows still return typed errors; the notifier is only the
// presentation channel.
type Notifier interface {
	Info(msg string)
	Success(msg string)
	Error(msg string)
}

// Log renders notifications through the structured logger.
type Log struct {
	name string
}

func NewLog(name string) *Log { return &Log{name: name} }

func (l *Log) Info(msg string)    { logging.Component(l.name).Info(msg) }
func (l *Log) Success(msg string) { logging.Component(l.name).WithField("outcome", "success").Info(msg) }
func (l *Log) Error(msg string)   { logging.Component(l.name).Error(msg) }

// Discard drops every notification.
type Discard struct{}

func (Discard) Info(string)    {}
func (Discard) Success(string) {}
func (Discard) Error(string)   {}
