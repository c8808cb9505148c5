package approval

import (
	"time"

	"github.com/akmatori/nocpilot/internal/models"
)

// Config is the process-wide approval policy. It is read-only once the ledger is built.
type Config struct {
	Timeout               time.Duration
	AutoApproveSeverity   models.Severity
	AlwaysRequireApproval []models.ActionType
	AutoApprovable        []models.ActionType
	AutoApproveConfidence float64
}

// DefaultConfig returns the stock policy: 30 minute timeout, info alerts auto-approvable,
// rollback and SSH always reviewed, restart/scale/no-op auto-approvable at 0.85 confidence.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Minute,
		AutoApproveSeverity: models.SeverityInfo,
		AlwaysRequireApproval: []models.ActionType{
			models.ActionK8sRollback,
			models.ActionSSHCommand,
		},
		AutoApprovable: []models.ActionType{
			models.ActionK8sRestartPod,
			models.ActionK8sScaleDeployment,
			models.ActionNoAction,
		},
		AutoApproveConfidence: 0.85,
	}
}

func containsAction(set []models.ActionType, t models.ActionType) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}
