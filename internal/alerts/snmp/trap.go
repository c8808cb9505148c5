package snmp

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/akmatori/nocpilot/internal/alerts"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

const (
	snmpTrapOID      = "1.3.6.1.6.3.1.1.4.1.0"
	genericTrapRoot  = "1.3.6.1.6.3.1.1.5"
	maxDescribedVars = 5
)

type trapKind struct {
	name     string
	severity models.Severity
}

// wellKnownTraps covers the SNMPv2 generic notifications
var wellKnownTraps = map[string]trapKind{
	genericTrapRoot + ".1": {"coldStart", models.SeverityCritical},
	genericTrapRoot + ".2": {"warmStart", models.SeverityWarning},
	genericTrapRoot + ".3": {"linkDown", models.SeverityCritical},
	genericTrapRoot + ".4": {"linkUp", models.SeverityInfo},
	genericTrapRoot + ".5": {"authenticationFailure", models.SeverityWarning},
}

// ClassifyTrap returns the trap name and severity for a notification OID. Unknown
// OIDs are named after their last arc and treated as warnings.
func ClassifyTrap(oid string) (string, models.Severity) {
	oid = strings.TrimPrefix(oid, ".")
	if k, ok := wellKnownTraps[oid]; ok {
		return k.name, k.severity
	}
	if oid == "" {
		return "unknown", models.SeverityWarning
	}
	return oid[strings.LastIndex(oid, ".")+1:], models.SeverityWarning
}

// TrapToEvent converts a received notification into an event
func TrapToEvent(packet *gosnmp.SnmpPacket, sourceIP string) *models.Event {
	trapOID := ""
	variables := make(map[string]interface{}, len(packet.Variables))
	var described []string

	for _, v := range packet.Variables {
		name := strings.TrimPrefix(v.Name, ".")
		value := pduString(v)
		if name == snmpTrapOID {
			trapOID = strings.TrimPrefix(value, ".")
		}
		variables[name] = value
		if len(described) < maxDescribedVars {
			described = append(described, fmt.Sprintf("%s=%s", name[strings.LastIndex(name, ".")+1:], value))
		}
	}

	// SNMPv1 traps carry the generic type in the header instead of a varbind
	if trapOID == "" && packet.Version == gosnmp.Version1 {
		if packet.GenericTrap >= 0 && packet.GenericTrap <= 5 {
			trapOID = fmt.Sprintf("%s.%d", genericTrapRoot, packet.GenericTrap+1)
		} else {
			trapOID = fmt.Sprintf("%s.0.%d", strings.TrimPrefix(packet.Enterprise, "."), packet.SpecificTrap)
		}
	}

	trapType, severity := ClassifyTrap(trapOID)

	return &models.Event{
		Source:      models.SourceSNMP,
		Severity:    severity,
		Title:       fmt.Sprintf("SNMP Trap: %s from %s", trapType, sourceIP),
		Description: fmt.Sprintf("Trap %s: %s", trapType, strings.Join(described, "; ")),
		Labels: map[string]string{
			"source_ip": sourceIP,
			"host":      sourceIP,
			"trap_oid":  trapOID,
			"trap_type": trapType,
		},
		RawData: map[string]interface{}{
			"trap_oid":  trapOID,
			"trap_type": trapType,
			"version":   packet.Version.String(),
			"variables": variables,
		},
		Timestamp: time.Now().UTC(),
	}
}

func pduString(v gosnmp.SnmpPDU) string {
	switch v.Type {
	case gosnmp.OctetString:
		if b, ok := v.Value.([]byte); ok {
			return string(b)
		}
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		if s, ok := v.Value.(string); ok {
			return s
		}
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Counter64, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(v.Value).String()
	}
	return fmt.Sprint(v.Value)
}

// TrapListener receives SNMP notifications and submits them as events
type TrapListener struct {
	addr      string
	community string
	submitter alerts.Submitter
	listener  *gosnmp.TrapListener
}

// NewTrapListener creates a listener for addr (e.g. "0.0.0.0:162")
func NewTrapListener(addr, community string, submitter alerts.Submitter) *TrapListener {
	return &TrapListener{addr: addr, community: community, submitter: submitter}
}

// Serve blocks until ctx is cancelled or the socket fails
func (t *TrapListener) Serve(ctx context.Context) error {
	tl := gosnmp.NewTrapListener()
	community := t.community
	if community == "" {
		community = "public"
	}
	tl.Params = &gosnmp.GoSNMP{
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   2 * time.Second,
		Retries:   3,
		MaxOids:   gosnmp.MaxOids,
	}
	tl.OnNewTrap = func(packet *gosnmp.SnmpPacket, addr *net.UDPAddr) {
		sourceIP := "unknown"
		if addr != nil {
			sourceIP = addr.IP.String()
		}
		ev := TrapToEvent(packet, sourceIP)
		id, err := t.submitter.Submit(ctx, ev)
		if err != nil {
			logging.Warnf("SNMP trap from %s dropped: %v", sourceIP, err)
			return
		}
		logging.Infof("SNMP trap %s received from %s as event %s", ev.Labels["trap_type"], sourceIP, id)
	}
	t.listener = tl

	errc := make(chan error, 1)
	go func() { errc <- tl.Listen(t.addr) }()

	select {
	case <-tl.Listening():
		logging.Infof("SNMP trap listener listening on %s", t.addr)
	case err := <-errc:
		return fmt.Errorf("snmp trap listener: %w", err)
	}

	select {
	case <-ctx.Done():
		tl.Close()
		<-errc
		logging.Infof("SNMP trap listener stopped")
		return nil
	case err := <-errc:
		return fmt.Errorf("snmp trap listener: %w", err)
	}
}
