package syslog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/akmatori/nocpilot/internal/models"
)

var (
	// <PRI>Mmm dd hh:mm:ss HOSTNAME TAG: MSG
	rfc3164Pattern = regexp.MustCompile(`^<(\d{1,3})>(\w{3}\s+\d+\s+\d+:\d+:\d+)\s+(\S+)\s+(\S+?):\s*(.*)$`)
	// <PRI>1 TIMESTAMP HOSTNAME APP-NAME PROCID MSGID SD MSG
	rfc5424Pattern = regexp.MustCompile(`^<(\d{1,3})>1\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(-|(?:\[[^\]]*\])+)\s?(.*)$`)
	priOnlyPattern = regexp.MustCompile(`^<(\d{1,3})>(.*)$`)
	pidPattern     = regexp.MustCompile(`^(.+?)\[(\d+)\]$`)
)

var facilityNames = map[int]string{
	0: "kern", 1: "user", 2: "mail", 3: "daemon",
	4: "auth", 5: "syslog", 6: "lpr", 7: "news",
	8: "uucp", 9: "cron", 10: "authpriv", 11: "ftp",
	16: "local0", 17: "local1", 18: "local2", 19: "local3",
	20: "local4", 21: "local5", 22: "local6", 23: "local7",
}

// Message is a parsed syslog line
type Message struct {
	Severity  models.Severity
	Facility  string
	Hostname  string
	Program   string
	PID       string
	Text      string
	Timestamp string
	Format    string
}

// SeverityFor maps the RFC 5424 severity code: 0-2 critical, 3-4 warning, 5-7 info
func SeverityFor(code int) models.Severity {
	switch {
	case code <= 2:
		return models.SeverityCritical
	case code <= 4:
		return models.SeverityWarning
	default:
		return models.SeverityInfo
	}
}

// FacilityName returns the conventional name for a facility code
func FacilityName(code int) string {
	if name, ok := facilityNames[code]; ok {
		return name
	}
	return fmt.Sprintf("facility%d", code)
}

// Parse understands RFC 5424, RFC 3164 and bare <PRI> lines. Anything else is kept
// verbatim as an info message.
func Parse(raw string) Message {
	raw = strings.TrimRight(raw, "\r\n\x00")
	msg := Message{Severity: models.SeverityInfo, Facility: "unknown", Text: raw, Format: "unknown"}

	if m := rfc5424Pattern.FindStringSubmatch(raw); m != nil {
		msg.applyPRI(m[1])
		msg.Format = "rfc5424"
		msg.Timestamp = nilValue(m[2])
		msg.Hostname = nilValue(m[3])
		msg.Program = nilValue(m[4])
		msg.PID = nilValue(m[5])
		msg.Text = strings.TrimPrefix(m[8], "\ufeff")
		return msg
	}

	if m := rfc3164Pattern.FindStringSubmatch(raw); m != nil {
		msg.applyPRI(m[1])
		msg.Format = "rfc3164"
		msg.Timestamp = m[2]
		msg.Hostname = m[3]
		msg.Program = m[4]
		if p := pidPattern.FindStringSubmatch(m[4]); p != nil {
			msg.Program, msg.PID = p[1], p[2]
		}
		msg.Text = m[5]
		return msg
	}

	if m := priOnlyPattern.FindStringSubmatch(raw); m != nil {
		pri, err := strconv.Atoi(m[1])
		if err == nil && pri <= 191 {
			msg.Severity = SeverityFor(pri & 0x07)
		}
		msg.Text = m[2]
		msg.Format = "pri"
	}
	return msg
}

func (m *Message) applyPRI(s string) {
	pri, err := strconv.Atoi(s)
	if err != nil || pri > 191 {
		return
	}
	m.Severity = SeverityFor(pri & 0x07)
	m.Facility = FacilityName(pri >> 3)
}

func nilValue(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// ToEvent builds the pipeline event for a message received from sourceIP
func ToEvent(raw, sourceIP string, receivedAt time.Time) *models.Event {
	msg := Parse(raw)

	hostname := msg.Hostname
	if hostname == "" {
		hostname = sourceIP
	}
	program := msg.Program
	if program == "" {
		program = "unknown"
	}

	labels := map[string]string{
		"source_ip": sourceIP,
		"facility":  msg.Facility,
		"hostname":  hostname,
		"host":      hostname,
		"program":   program,
	}
	if msg.PID != "" {
		labels["pid"] = msg.PID
	}

	return &models.Event{
		Source:      models.SourceSyslog,
		Severity:    msg.Severity,
		Title:       fmt.Sprintf("Syslog: %s from %s", msg.Facility, hostname),
		Description: msg.Text,
		Labels:      labels,
		RawData: map[string]interface{}{
			"raw":       raw,
			"format":    msg.Format,
			"timestamp": msg.Timestamp,
		},
		Timestamp: receivedAt.UTC(),
	}
}
