package syslog

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/akmatori/nocpilot/internal/alerts"
	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/utils"
)

const maxDatagram = 64 * 1024

// Receiver listens for syslog datagrams and submits each one as an event
type Receiver struct {
	addr      string
	submitter alerts.Submitter
	conn      net.PacketConn
}

// NewReceiver creates a receiver bound to addr when Listen is called (e.g. ":514")
func NewReceiver(addr string, submitter alerts.Submitter) *Receiver {
	return &Receiver{addr: addr, submitter: submitter}
}

// Listen opens the UDP socket
func (r *Receiver) Listen() error {
	conn, err := net.ListenPacket("udp", r.addr)
	if err != nil {
		return err
	}
	r.conn = conn
	logging.Infof("Syslog receiver listening on %s", conn.LocalAddr())
	return nil
}

// Addr returns the bound address, or nil before Listen
func (r *Receiver) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve reads datagrams until ctx is cancelled
func (r *Receiver) Serve(ctx context.Context) error {
	if r.conn == nil {
		if err := r.Listen(); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logging.Infof("Syslog receiver stopped")
				return nil
			}
			logging.Warnf("Syslog read error: %v", err)
			continue
		}

		sourceIP := addr.String()
		if udp, ok := addr.(*net.UDPAddr); ok {
			sourceIP = udp.IP.String()
		}

		ev := ToEvent(string(buf[:n]), sourceIP, time.Now())
		id, err := r.submitter.Submit(ctx, ev)
		if err != nil {
			logging.Warnf("Syslog event from %s dropped: %v (%s)", sourceIP, err, utils.EscapeForLogging(string(buf[:n]), 200))
			continue
		}
		logging.Debugf("Syslog event %s submitted from %s (%s)", id, sourceIP, ev.Labels["facility"])
	}
}
