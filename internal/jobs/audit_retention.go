package jobs

import (
	"context"
	"time"

	"github.com/akmatori/nocpilot/internal/logging"
)

// Purger deletes audit rows older than a cutoff
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRetention periodically removes audit records past the retention window
type AuditRetention struct {
	purger    Purger
	retention time.Duration
	now       func() time.Time
}

// NewAuditRetention creates a retention job keeping records for retention
func NewAuditRetention(purger Purger, retention time.Duration) *AuditRetention {
	return &AuditRetention{purger: purger, retention: retention, now: time.Now}
}

// RunOnce purges records resolved before now minus the retention window.
// A non-positive retention keeps everything.
func (j *AuditRetention) RunOnce(ctx context.Context) (int64, error) {
	if j.retention <= 0 {
		return 0, nil
	}
	return j.purger.Purge(ctx, j.now().UTC().Add(-j.retention))
}

// Start begins the periodic purge
func (j *AuditRetention) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := j.RunOnce(ctx)
			if err != nil {
				logging.Errorf("Audit retention error: %v", err)
			} else if removed > 0 {
				logging.Infof("Audit retention: removed %d records older than %s", removed, j.retention)
			}
		case <-ctx.Done():
			logging.Infof("Audit retention stopped")
			return
		}
	}
}
