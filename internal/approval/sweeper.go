package approval

import (
	"context"
	"errors"
	"time"

	"github.com/akmatori/nocpilot/internal/logging"
)

// DefaultSweepInterval is how often the sweeper scans for overdue requests
const DefaultSweepInterval = time.Minute

// Sweeper expires pending approval requests that outlived their timeout
type Sweeper struct {
	ledger *Ledger
}

// NewSweeper creates a new expiry sweeper
func NewSweeper(ledger *Ledger) *Sweeper {
	return &Sweeper{ledger: ledger}
}

// CheckAndExpire expires every overdue request and returns how many were expired.
// A failure on one request is logged and the rest are still processed.
func (s *Sweeper) CheckAndExpire() (int, error) {
	ctx := context.Background()
	var errs []error

	expired := 0
	for _, id := range s.ledger.Overdue(s.ledger.now()) {
		if err := s.ledger.Expire(ctx, id); err != nil {
			// Resolved by a human between the scan and now
			if errors.Is(err, ErrRequestNotPending) || errors.Is(err, ErrRequestNotFound) {
				continue
			}
			logging.Errorf("Expiry sweeper: failed to expire request %s: %v", id, err)
			errs = append(errs, err)
			continue
		}
		expired++
	}

	return expired, errors.Join(errs...)
}

// Start runs CheckAndExpire on every tick until stop is closed
func (s *Sweeper) Start(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			expired, err := s.CheckAndExpire()
			if err != nil {
				logging.Errorf("Expiry sweeper error: %v", err)
			} else if expired > 0 {
				logging.Infof("Expiry sweeper: expired %d approval requests", expired)
			}
		case <-stop:
			logging.Infof("Expiry sweeper stopped")
			return
		}
	}
}
