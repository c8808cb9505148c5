package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
	"github.com/akmatori/nocpilot/internal/utils"
)

// PlaybookConfig controls how ansible_playbook actions are run
type PlaybookConfig struct {
	Binary       string        `mapstructure:"binary"`       // defaults to ansible-playbook
	PlaybookDir  string        `mapstructure:"playbook_dir"` // relative playbook names resolve here
	Inventory    string        `mapstructure:"inventory"`    // used when the action names none
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxOutputLen int           `mapstructure:"max_output_len"`
}

// PlaybookExecutor shells out to ansible-playbook
type PlaybookExecutor struct {
	cfg PlaybookConfig
}

// NewPlaybookExecutor fills in binary and timeout defaults
func NewPlaybookExecutor(cfg PlaybookConfig) *PlaybookExecutor {
	if cfg.Binary == "" {
		cfg.Binary = "ansible-playbook"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.MaxOutputLen == 0 {
		cfg.MaxOutputLen = 16 * 1024
	}
	return &PlaybookExecutor{cfg: cfg}
}

// Execute runs params.playbook against params.inventory with params.extra_vars
func (p *PlaybookExecutor) Execute(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error) {
	args, playbook, err := p.buildArgs(action)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.cfg.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Infof("Running playbook %s", playbook)
	start := time.Now()
	runErr := cmd.Run()

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil {
		return nil, fmt.Errorf("failed to run %s: %w", p.cfg.Binary, runErr)
	}

	result := map[string]interface{}{
		"playbook":    playbook,
		"stdout":      utils.Tail(stdout.String(), p.cfg.MaxOutputLen),
		"stderr":      utils.Tail(stderr.String(), p.cfg.MaxOutputLen),
		"exit_code":   exitCode,
		"success":     exitCode == 0,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("playbook %s timed out after %s", playbook, p.cfg.Timeout)
	}
	if exitCode != 0 {
		return result, fmt.Errorf("playbook %s exited with status %d", playbook, exitCode)
	}
	return result, nil
}

func (p *PlaybookExecutor) buildArgs(action *models.RemediationAction) ([]string, string, error) {
	playbook, err := requireString(action, "playbook")
	if err != nil {
		return nil, "", err
	}
	if strings.HasPrefix(playbook, "-") {
		return nil, "", fmt.Errorf("%s: invalid playbook name %q", action.ActionType, playbook)
	}
	if p.cfg.PlaybookDir != "" && !filepath.IsAbs(playbook) {
		clean := filepath.Clean(playbook)
		if strings.HasPrefix(clean, "..") {
			return nil, "", fmt.Errorf("%s: playbook %q escapes the playbook directory", action.ActionType, playbook)
		}
		playbook = filepath.Join(p.cfg.PlaybookDir, clean)
	}

	args := []string{playbook}
	inventory := action.StringParam("inventory")
	if inventory == "" {
		inventory = p.cfg.Inventory
	}
	if inventory != "" {
		args = append(args, "-i", inventory)
	}

	if vars, ok := action.Parameters["extra_vars"].(map[string]interface{}); ok {
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, "-e", fmt.Sprintf("%s=%v", k, vars[k]))
		}
	}
	return args, playbook, nil
}
