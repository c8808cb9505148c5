package snmp

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"golang.org/x/sync/errgroup"

	"github.com/akmatori/nocpilot/internal/alerts"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

const (
	ifEntryOID = "1.3.6.1.2.1.2.2.1"

	ifDescrColumn       = 2
	ifAdminStatusColumn = 7
	ifOperStatusColumn  = 8
	ifInErrorsColumn    = 14
	ifOutErrorsColumn   = 20

	statusUp   = 1
	statusDown = 2

	// DefaultErrorThreshold is the in+out error total that raises a warning
	DefaultErrorThreshold = 100
	// DefaultPollInterval applies to devices without their own interval
	DefaultPollInterval = 60 * time.Second
)

// Device is a polled network device
type Device struct {
	Name      string        `mapstructure:"name"`
	Host      string        `mapstructure:"host"`
	Port      uint16        `mapstructure:"port"`
	Community string        `mapstructure:"community"`
	Interval  time.Duration `mapstructure:"interval"`
}

func (d Device) displayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Host
}

// Interface is one row of the device's ifTable
type Interface struct {
	Index       string
	Description string
	AdminStatus int
	OperStatus  int
	InErrors    uint64
	OutErrors   uint64
}

func (i Interface) label() string {
	if i.Description != "" {
		return i.Description
	}
	return i.Index
}

type walker interface {
	Connect() error
	BulkWalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	Close() error
}

type goSNMPWalker struct {
	*gosnmp.GoSNMP
}

func (w goSNMPWalker) Close() error {
	if w.Conn == nil {
		return nil
	}
	return w.Conn.Close()
}

// Poller walks each device's interface table on its own interval
type Poller struct {
	devices        []Device
	submitter      alerts.Submitter
	errorThreshold uint64
	timeout        time.Duration
	newWalker      func(d Device) walker
}

// NewPoller creates a poller for devices
func NewPoller(devices []Device, submitter alerts.Submitter) *Poller {
	p := &Poller{
		devices:        devices,
		submitter:      submitter,
		errorThreshold: DefaultErrorThreshold,
		timeout:        5 * time.Second,
	}
	p.newWalker = func(d Device) walker {
		port := d.Port
		if port == 0 {
			port = 161
		}
		community := d.Community
		if community == "" {
			community = "public"
		}
		return goSNMPWalker{&gosnmp.GoSNMP{
			Target:         d.Host,
			Port:           port,
			Community:      community,
			Version:        gosnmp.Version2c,
			Timeout:        p.timeout,
			Retries:        2,
			MaxRepetitions: 20,
			Transport:      "udp",
		}}
	}
	return p
}

// SetErrorThreshold overrides DefaultErrorThreshold
func (p *Poller) SetErrorThreshold(n uint64) {
	p.errorThreshold = n
}

// Run polls every device until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	logging.Infof("SNMP poller starting for %d devices", len(p.devices))
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range p.devices {
		d := d
		g.Go(func() error {
			p.monitor(ctx, d)
			return nil
		})
	}
	err := g.Wait()
	logging.Infof("SNMP poller stopped")
	return err
}

func (p *Poller) monitor(ctx context.Context, d Device) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.submitAll(ctx, p.Check(d))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check polls a device once and returns the events its state calls for
func (p *Poller) Check(d Device) []*models.Event {
	interfaces, err := p.PollInterfaces(d)
	if err != nil {
		logging.Errorf("SNMP poll of %s failed: %v", d.Host, err)
		return []*models.Event{p.event(d, models.SeverityWarning,
			fmt.Sprintf("SNMP monitoring failed for %s", d.displayName()),
			fmt.Sprintf("Failed to poll device: %v", err),
			map[string]string{"error_type": "poll_failure"})}
	}

	var events []*models.Event
	for _, iface := range interfaces {
		total := iface.InErrors + iface.OutErrors
		if total > p.errorThreshold {
			events = append(events, p.event(d, models.SeverityWarning,
				fmt.Sprintf("High interface errors on %s", d.displayName()),
				fmt.Sprintf("Interface %s has %d errors", iface.label(), total),
				map[string]string{
					"interface":  iface.label(),
					"in_errors":  strconv.FormatUint(iface.InErrors, 10),
					"out_errors": strconv.FormatUint(iface.OutErrors, 10),
				}))
		}
		if iface.AdminStatus == statusUp && iface.OperStatus == statusDown {
			events = append(events, p.event(d, models.SeverityCritical,
				fmt.Sprintf("Interface down on %s", d.displayName()),
				fmt.Sprintf("Interface %s is administratively up but operationally down", iface.label()),
				map[string]string{
					"interface":    iface.label(),
					"admin_status": "up",
					"oper_status":  "down",
				}))
		}
	}
	return events
}

// PollInterfaces walks ifEntry and groups the columns by ifIndex
func (p *Poller) PollInterfaces(d Device) ([]Interface, error) {
	w := p.newWalker(d)
	if err := w.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer w.Close()

	pdus, err := w.BulkWalkAll(ifEntryOID)
	if err != nil {
		return nil, fmt.Errorf("walk ifTable: %w", err)
	}
	return parseInterfaces(pdus), nil
}

func parseInterfaces(pdus []gosnmp.SnmpPDU) []Interface {
	byIndex := make(map[string]*Interface)
	var order []string

	prefix := ifEntryOID + "."
	for _, pdu := range pdus {
		name := strings.TrimPrefix(pdu.Name, ".")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(name, prefix), ".", 2)
		if len(parts) != 2 {
			continue
		}
		column, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		index := parts[1]

		iface, ok := byIndex[index]
		if !ok {
			iface = &Interface{Index: index, AdminStatus: statusUp, OperStatus: statusUp}
			byIndex[index] = iface
			order = append(order, index)
		}

		switch column {
		case ifDescrColumn:
			iface.Description = pduString(pdu)
		case ifAdminStatusColumn:
			iface.AdminStatus = int(gosnmp.ToBigInt(pdu.Value).Int64())
		case ifOperStatusColumn:
			iface.OperStatus = int(gosnmp.ToBigInt(pdu.Value).Int64())
		case ifInErrorsColumn:
			iface.InErrors = gosnmp.ToBigInt(pdu.Value).Uint64()
		case ifOutErrorsColumn:
			iface.OutErrors = gosnmp.ToBigInt(pdu.Value).Uint64()
		}
	}

	out := make([]Interface, 0, len(order))
	for _, idx := range order {
		out = append(out, *byIndex[idx])
	}
	return out
}

func (p *Poller) event(d Device, severity models.Severity, title, description string, extra map[string]string) *models.Event {
	labels := map[string]string{
		"device_host": d.Host,
		"device_name": d.displayName(),
		"host":        d.Host,
		"device":      d.displayName(),
	}
	for k, v := range extra {
		labels[k] = v
	}
	return &models.Event{
		Source:      models.SourceSNMP,
		Severity:    severity,
		Title:       title,
		Description: description,
		Labels:      labels,
		RawData: map[string]interface{}{
			"device": map[string]interface{}{
				"host": d.Host,
				"port": d.Port,
				"name": d.Name,
			},
		},
	}
}

func (p *Poller) submitAll(ctx context.Context, events []*models.Event) {
	for _, ev := range events {
		if _, err := p.submitter.Submit(ctx, ev); err != nil {
			logging.Warnf("SNMP poller event %q dropped: %v", ev.Title, err)
		}
	}
}
