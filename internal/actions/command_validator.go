package actions

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	commandSeparator = regexp.MustCompile(`&&|\|\||[;|]`)
	envAssignment    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
	deviceRedirect   = regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|xvd|vd)`)
)

// CommandValidator screens remote commands before they reach a host
type CommandValidator struct {
	// BlockedPatterns are rejected anywhere in the command
	BlockedPatterns []string

	// AllowedCommands restricts the base command of every chained segment. Empty allows any.
	AllowedCommands map[string]bool
}

// NewCommandValidator blocks commands that destroy data or take a host down
func NewCommandValidator() *CommandValidator {
	return &CommandValidator{
		BlockedPatterns: []string{
			"rm -rf /", "rm -fr /", "rm -rf --no-preserve-root",
			"mkfs", "dd if=", "shred ", "fdisk ", "parted ",
			"shutdown", "halt", "poweroff", "init 0", "init 6",
			":(){ :|:& };:",
			"userdel", "passwd ",
			"iptables -F", "chmod -R 777 /",
		},
	}
}

// Validate returns an error naming the first rule the command breaks
func (v *CommandValidator) Validate(command string) error {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return fmt.Errorf("command blocked: empty command")
	}

	for _, pattern := range v.BlockedPatterns {
		if strings.Contains(cmd, pattern) {
			return fmt.Errorf("command blocked: contains dangerous pattern '%s'", strings.TrimSpace(pattern))
		}
	}
	if deviceRedirect.MatchString(cmd) {
		return fmt.Errorf("command blocked: writes to a block device")
	}

	if len(v.AllowedCommands) == 0 {
		return nil
	}
	for _, part := range commandSeparator.Split(cmd, -1) {
		base := baseCommand(part)
		if base == "" {
			continue
		}
		if !v.AllowedCommands[base] {
			return fmt.Errorf("command blocked: '%s' is not in the allowed command list", base)
		}
	}
	return nil
}

// baseCommand strips env assignments, sudo and path prefixes from a single segment
func baseCommand(segment string) string {
	segment = strings.TrimPrefix(strings.TrimSpace(segment), "$(")
	segment = strings.TrimSuffix(segment, ")")
	segment = strings.Trim(segment, "`")

	parts := strings.Fields(segment)
	for len(parts) > 0 && (envAssignment.MatchString(parts[0]) || parts[0] == "sudo") {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return ""
	}

	base := parts[0]
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return base
}
