package actions

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/akmatori/nocpilot/internal/logging"
	"github.com/akmatori/nocpilot/internal/models"
)

// SSHConfig holds the credentials used for ssh_command actions
type SSHConfig struct {
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	PrivateKey     string        `mapstructure:"private_key"` // PEM text, optionally prefixed with "base64:"
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"` // empty accepts any host key
}

// SSHExecutor runs a single command on a remote host
type SSHExecutor struct {
	cfg       SSHConfig
	validator *CommandValidator
	dial      func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSSHExecutor fills in port and timeout defaults
func NewSSHExecutor(cfg SSHConfig, validator *CommandValidator) *SSHExecutor {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if validator == nil {
		validator = NewCommandValidator()
	}
	d := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &SSHExecutor{cfg: cfg, validator: validator, dial: d.DialContext}
}

// Execute runs params.command on params.host. A non-zero exit status is returned as an
// error alongside the captured output.
func (s *SSHExecutor) Execute(ctx context.Context, action *models.RemediationAction) (map[string]interface{}, error) {
	host, err := requireString(action, "host")
	if err != nil {
		return nil, err
	}
	command, err := requireString(action, "command")
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(command); err != nil {
		return nil, err
	}

	port := s.cfg.Port
	if p, ok, err := intParam(action, "port"); err != nil {
		return nil, err
	} else if ok {
		port = p
	}
	username := s.cfg.Username
	if u := action.StringParam("username"); u != "" {
		username = u
	}

	clientConfig, err := s.clientConfig(username)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logging.Infof("Executing SSH command on %s as %s", addr, username)

	start := time.Now()
	stdout, stderr, exitCode, err := s.run(ctx, addr, command, clientConfig)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"host":        host,
		"stdout":      stdout,
		"stderr":      stderr,
		"exit_code":   exitCode,
		"success":     exitCode == 0,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if exitCode != 0 {
		return result, fmt.Errorf("command on %s exited with status %d", host, exitCode)
	}
	return result, nil
}

func (s *SSHExecutor) clientConfig(username string) (*ssh.ClientConfig, error) {
	if username == "" {
		return nil, fmt.Errorf("ssh_command: no username configured")
	}

	var auth []ssh.AuthMethod
	keyData := s.cfg.PrivateKey
	if keyData == "" && s.cfg.PrivateKeyFile != "" {
		raw, err := os.ReadFile(s.cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		keyData = string(raw)
	}
	if keyData != "" {
		signer, err := parsePrivateKey(keyData)
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.cfg.Password != "" {
		auth = append(auth, ssh.Password(s.cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh_command: no private key or password configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if s.cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.cfg.ConnectTimeout,
	}, nil
}

type commandResult struct {
	stdout   string
	stderr   string
	exitCode int
	err      error
}

func (s *SSHExecutor) run(ctx context.Context, addr, command string, cfg *ssh.ClientConfig) (string, string, int, error) {
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		return "", "", -1, fmt.Errorf("connection to %s failed: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return "", "", -1, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", "", -1, fmt.Errorf("session creation failed: %w", err)
	}
	defer session.Close()

	resultChan := make(chan commandResult, 1)
	go func() {
		var stdout, stderr strings.Builder
		session.Stdout = &stdout
		session.Stderr = &stderr

		err := session.Run(command)
		exitCode := 0
		if exitErr, ok := err.(*ssh.ExitError); ok {
			exitCode = exitErr.ExitStatus()
			err = nil
		}
		resultChan <- commandResult{stdout: stdout.String(), stderr: stderr.String(), exitCode: exitCode, err: err}
	}()

	timer := time.NewTimer(s.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", "", -1, fmt.Errorf("command on %s cancelled: %w", addr, ctx.Err())
	case <-timer.C:
		return "", "", -1, fmt.Errorf("command on %s timed out after %s", addr, s.cfg.CommandTimeout)
	case res := <-resultChan:
		if res.err != nil {
			return res.stdout, res.stderr, -1, fmt.Errorf("command execution failed: %w", res.err)
		}
		return res.stdout, res.stderr, res.exitCode, nil
	}
}

func parsePrivateKey(keyData string) (ssh.Signer, error) {
	if strings.HasPrefix(keyData, "base64:") {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(keyData, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("failed to decode private key: %w", err)
		}
		keyData = string(decoded)
	}
	signer, err := ssh.ParsePrivateKey([]byte(fixPEMKey(keyData)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// fixPEMKey restores newlines in a PEM block that was flattened into one line,
// which happens when keys pass through environment variables.
func fixPEMKey(key string) string {
	if strings.Contains(key, "\n") {
		return key
	}
	begin := strings.Index(key, "-----BEGIN")
	if begin < 0 {
		return key
	}
	headerEnd := strings.Index(key[begin+len("-----BEGIN"):], "-----")
	if headerEnd < 0 {
		return key
	}
	headerEnd += begin + len("-----BEGIN") + len("-----")
	footer := strings.Index(key[headerEnd:], "-----END")
	if footer < 0 {
		return key
	}
	footer += headerEnd

	header := key[begin:headerEnd]
	body := strings.Join(strings.Fields(key[headerEnd:footer]), "")
	return header + "\n" + body + "\n" + strings.TrimSpace(key[footer:]) + "\n"
}
