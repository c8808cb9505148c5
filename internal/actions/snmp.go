package actions

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

// SNMPConfig holds defaults for snmp_set actions
type SNMPConfig struct {
	Community string        `mapstructure:"community"`
	Port      uint16        `mapstructure:"port"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Retries   int           `mapstructure:"retries"`
}

// snmpClient is the subset of gosnmp used here
type snmpClient interface {
	Connect() error
	Set(pdus []gosnmp.SnmpPDU) (*gosnmp.SnmpPacket, error)
	Close() error
}

type goSNMPClient struct {
	*gosnmp.GoSNMP
}

func (c goSNMPClient) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}

// SNMPExecutor writes a single OID on a device
type SNMPExecutor struct {
	cfg       SNMPConfig
	newClient func(target, community string, port uint16) snmpClient
}

// NewSNMPExecutor uses SNMP v2c against the target in params.host
func NewSNMPExecutor(cfg SNMPConfig) *SNMPExecutor {
	if cfg.Community == "" {
		cfg.Community = "private"
	}
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	s := &SNMPExecutor{cfg: cfg}
	s.newClient = func(target, community string, port uint16) snmpClient {
		// gosnmp clients are not safe for concurrent use, so each action gets its own
		return goSNMPClient{&gosnmp.GoSNMP{
			Target:    target,
			Port:      port,
			Community: community,
			Version:   gosnmp.Version2c,
			Timeout:   cfg.Timeout,
			Retries:   cfg.Retries,
			Transport: "udp",
		}}
	}
	return s
}

// Execute sets params.oid to params.value on params.host
func (s *SNMPExecutor) Execute(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error) {
	host, err := requireString(action, "host")
	if err != nil {
		return nil, err
	}
	oid, err := requireString(action, "oid")
	if err != nil {
		return nil, err
	}
	pdu, err := setPDU(action, oid)
	if err != nil {
		return nil, err
	}

	community := s.cfg.Community
	if c := action.StringParam("community"); c != "" {
		community = c
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := s.newClient(host, community, s.cfg.Port)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", host, err)
	}
	defer client.Close()

	logging.Infof("Setting SNMP %s on %s", oid, host)
	packet, err := client.Set([]gosnmp.SnmpPDU{pdu})
	if err != nil {
		return nil, fmt.Errorf("snmp set %s on %s failed: %w", oid, host, err)
	}
	if packet.Error != gosnmp.NoError {
		return nil, fmt.Errorf("snmp set %s on %s rejected: %v", oid, host, packet.Error)
	}

	return map[string]interface{}{
		"host":  host,
		"oid":   oid,
		"value": pdu.Value,
	}, nil
}

// setPDU builds the variable binding from params.value and params.type (integer or string)
func setPDU(action *models.RemediationAction, oid string) (gosnmp.SnmpPDU, error) {
	raw, ok := action.Parameters["value"]
	if !ok || raw == nil {
		return gosnmp.SnmpPDU{}, fmt.Errorf("%s: missing required parameter %q", action.ActionType, "value")
	}

	kind := action.StringParam("type")
	if kind == "" {
		kind = "string"
		switch raw.(type) {
		case int, int32, int64, float64:
			kind = "integer"
		}
	}

	switch kind {
	case "integer":
		n, _, err := intParam(action, "value")
		if err != nil {
			return gosnmp.SnmpPDU{}, err
		}
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.Integer, Value: n}, nil
	case "string":
		var s string
		switch v := raw.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			s = fmt.Sprint(v)
		}
		return gosnmp.SnmpPDU{Name: oid, Type: gosnmp.OctetString, Value: s}, nil
	default:
		return gosnmp.SnmpPDU{}, fmt.Errorf("%s: unsupported value type %q", action.ActionType, kind)
	}
}
