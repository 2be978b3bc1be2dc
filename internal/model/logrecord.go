package model

import "time"

// LogRecord is one persisted log line.
type LogRecord struct {
	ID        string    `json:"id" yaml:"id"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Level     string    `json:"level" yaml:"level"`
	Contract  string    `json:"contract,omitempty" yaml:"contract,omitempty"`
	Component string    `json:"component,omitempty" yaml:"component,omitempty"`
	Message   string    `json:"message" yaml:"message"`
	// Raw holds the complete encoded event as written by the logger.
	Raw string `json:"raw" yaml:"raw"`
}
