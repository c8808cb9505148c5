package actions

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/akmatori/nocpilot/internal/models"
)

func playbookAction(params map[string]interface{}) *models.RemediationAction {
	return &models.RemediationAction{ID: "act-pb", ActionType: models.ActionAnsiblePlaybook, Parameters: params}
}

func TestPlaybookExecutor_BuildArgs(t *testing.T) {
	exec := NewPlaybookExecutor(PlaybookConfig{PlaybookDir: "/srv/playbooks", Inventory: "/etc/ansible/hosts"})

	args, playbook, err := exec.buildArgs(playbookAction(map[string]interface{}{
		"playbook":   "restart-nginx.yml",
		"extra_vars": map[string]interface{}{"service": "nginx", "count": float64(2)},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"/srv/playbooks/restart-nginx.yml", "-i", "/etc/ansible/hosts", "-e", "count=2", "-e", "service=nginx"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("expected %v, got %v", want, args)
	}
	if playbook != "/srv/playbooks/restart-nginx.yml" {
		t.Errorf("unexpected playbook %s", playbook)
	}
}

func TestPlaybookExecutor_RejectsBadPlaybooks(t *testing.T) {
	exec := NewPlaybookExecutor(PlaybookConfig{PlaybookDir: "/srv/playbooks"})
	for _, name := range []string{"", "--syntax-check", "../../etc/passwd"} {
		if _, _, err := exec.buildArgs(playbookAction(map[string]interface{}{"playbook": name})); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

// writeScript creates a stand-in for ansible-playbook
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-ansible")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestPlaybookExecutor_Success(t *testing.T) {
	bin := writeScript(t, `echo "PLAY RECAP $@"`)
	exec := NewPlaybookExecutor(PlaybookConfig{Binary: bin})

	result, err := exec.Execute(context.Background(), playbookAction(map[string]interface{}{"playbook": "site.yml", "inventory": "prod"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result["stdout"].(string), "PLAY RECAP site.yml -i prod") {
		t.Errorf("unexpected stdout %q", result["stdout"])
	}
	if result["success"] != true {
		t.Errorf("expected success, got %v", result)
	}
}

func TestPlaybookExecutor_Failure(t *testing.T) {
	bin := writeScript(t, `echo "fatal: unreachable" >&2; exit 4`)
	exec := NewPlaybookExecutor(PlaybookConfig{Binary: bin})

	result, err := exec.Execute(context.Background(), playbookAction(map[string]interface{}{"playbook": "site.yml"}))
	if err == nil {
		t.Fatal("expected error for failing playbook")
	}
	if result["exit_code"] != 4 {
		t.Errorf("expected exit code 4, got %v", result["exit_code"])
	}
	if !strings.Contains(result["stderr"].(string), "unreachable") {
		t.Errorf("expected stderr captured, got %q", result["stderr"])
	}
}

func TestPlaybookExecutor_Timeout(t *testing.T) {
	bin := writeScript(t, `exec sleep 5`)
	exec := NewPlaybookExecutor(PlaybookConfig{Binary: bin, Timeout: 100 * time.Millisecond})

	_, err := exec.Execute(context.Background(), playbookAction(map[string]interface{}{"playbook": "site.yml"}))
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestPlaybookExecutor_MissingBinary(t *testing.T) {
	exec := NewPlaybookExecutor(PlaybookConfig{Binary: filepath.Join(t.TempDir(), "missing")})
	_, err := exec.Execute(context.Background(), playbookAction(map[string]interface{}{"playbook": "site.yml"}))
	if err == nil {
		t.Error("expected error for missing binary")
	}
}
