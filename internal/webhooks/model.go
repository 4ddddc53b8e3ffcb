// Package webhooks delivers domain lifecycle events to configured HTTP endpoints.
package webhooks

import (
	"strings"
	"time"
)

// Endpoint is one delivery target. An empty Events list receives every event.
type Endpoint struct {
	URL    string   `mapstructure:"url"`
	Secret string   `mapstructure:"secret"`
	Events []string `mapstructure:"events"`
}

func (e Endpoint) wants(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == eventType || ev == "*" {
			return true
		}
		if prefix, ok := strings.CutSuffix(ev, ".*"); ok && strings.HasPrefix(eventType, prefix+".") {
			return true
		}
	}
	return false
}

// Event is the JSON body of a delivery.
type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	URL        string
	EventID    string
	EventType  string
	StatusCode int
	Attempt    int
	Success    bool
	Error      string
}
