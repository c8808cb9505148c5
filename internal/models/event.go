package models

import (
	"fmt"
	"time"
)

// EventSource identifies the ingestion channel an event came from
type EventSource string

const (
	SourceAlertmanager EventSource = "alertmanager"
	SourceSyslog       EventSource = "syslog"
	SourceSNMP         EventSource = "snmp"
	SourcePrometheus   EventSource = "prometheus"
	SourceCustom       EventSource = "custom"
)

// Valid reports whether s is a known source
func (s EventSource) Valid() bool {
	switch s {
	case SourceAlertmanager, SourceSyslog, SourceSNMP, SourcePrometheus, SourceCustom:
		return true
	}
	return false
}

// Severity is the alert severity. Severities are totally ordered: critical > warning > info.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank returns the ordering weight of the severity, 0 for unknown values
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// Valid reports whether s is a known severity
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Event is a normalized alert record from any ingestion source
type Event struct {
	ID          string                 `json:"id"`
	Source      EventSource            `json:"source"`
	Severity    Severity               `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Labels      map[string]string      `json:"labels"`
	RawData     map[string]interface{} `json:"raw_data"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Clone returns a copy that shares no maps with e
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	if e.Labels != nil {
		c.Labels = make(map[string]string, len(e.Labels))
		for k, v := range e.Labels {
			c.Labels[k] = v
		}
	}
	c.RawData = cloneMap(e.RawData)
	return &c
}

// Validate checks the fields every event must carry before it enters the pipeline
func (e *Event) Validate() error {
	if e.Title == "" {
		return fmt.Errorf("event title is required")
	}
	if !e.Source.Valid() {
		return fmt.Errorf("invalid event source %q", e.Source)
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("invalid event severity %q", e.Severity)
	}
	return nil
}
