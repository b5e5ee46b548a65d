// Copyright (c) 2026 Patchfleet Team
// Patchfleet - fleet inventory and patch orchestration
// This source code is licensed under the MIT license found in the LICENSE file.

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/toeirei/patchfleet/internal/failure"
	"golang.org/x/crypto/ssh"
)

// HostKeyStore returns the pinned key of a control node, or "" when none is
// pinned yet.
type HostKeyStore interface {
	GetKnownHostKey(ctx context.Context, hostname string) (string, error)
}

// ConnectionConfig holds the SSH timeouts.
type ConnectionConfig struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// DefaultConnectionConfig returns the default timeouts. Fleet-wide
// checkupdates runs can take minutes, hence the long command timeout.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 10 * time.Minute,
	}
}

// sshClientIface is the part of an SSH client used by sessions. It allows
// tests to substitute a fake client.
type sshClientIface interface {
	Exec(cmd Command, stdout, stderr io.Writer) error
	Close() error
}

type sshClient struct {
	client *ssh.Client
}

func (c *sshClient) Exec(cmd Command, stdout, stderr io.Writer) error {
	sess, err := c.client.NewSession()
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()
	sess.Stdout = stdout
	sess.Stderr = stderr
	if cmd.PTY {
		if err := sess.RequestPty("xterm", 80, 200, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
			return fmt.Errorf("request pty: %w", err)
		}
	}
	return sess.Run(cmd.Line)
}

func (c *sshClient) Close() error { return c.client.Close() }

// sshDial is overridden in tests. The connect timeout covers the TCP dial and
// the SSH handshake.
var sshDial = func(network, addr string, cfg *ssh.ClientConfig) (sshClientIface, error) {
	conn, err := net.DialTimeout(network, addr, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return &sshClient{client: ssh.NewClient(c, chans, reqs)}, nil
}

// sshAgentGetter is overridden in tests.
var sshAgentGetter = getSSHAgent

// HostKeyError reports a host key that is not pinned or does not match the
// pinned key.
type HostKeyError struct {
	Host      string
	Presented string
	Unknown   bool
}

func (e *HostKeyError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("unknown host key for %s; run 'patchfleet trust-host' to pin it", e.Host)
	}
	return fmt.Sprintf("HOST KEY MISMATCH FOR %s: remote presented %s; this could be a man-in-the-middle attack", e.Host, e.Presented)
}

// HostKeyID returns the known_hosts key for addr: the host without port.
func HostKeyID(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// SSHDialer dials control nodes with pinned host keys.
type SSHDialer struct {
	HostKeys HostKeyStore
	Config   ConnectionConfig
}

// NewSSHDialer returns a dialer verifying host keys against keys.
func NewSSHDialer(keys HostKeyStore, cfg ConnectionConfig) *SSHDialer {
	return &SSHDialer{HostKeys: keys, Config: cfg}
}

// Dial connects to the target. The configured private key is tried first;
// when it is missing or rejected the SSH agent is used. A host key problem is
// fatal and never falls back.
func (d *SSHDialer) Dial(ctx context.Context, target Target) (Session, error) {
	addr := target.Addr()
	var hostKeyErr error
	hostKeyCallback := func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		host := HostKeyID(hostname)
		presented := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))

		known, err := d.HostKeys.GetKnownHostKey(ctx, host)
		if err != nil {
			hostKeyErr = fmt.Errorf("query known hosts: %w", err)
			return hostKeyErr
		}
		if known == "" {
			hostKeyErr = &HostKeyError{Host: host, Presented: presented, Unknown: true}
			return hostKeyErr
		}
		if strings.TrimSpace(known) != presented {
			hostKeyErr = &HostKeyError{Host: host, Presented: presented}
			return hostKeyErr
		}
		return nil
	}

	cfg := func(auth ssh.AuthMethod) *ssh.ClientConfig {
		return &ssh.ClientConfig{
			User:            target.Username,
			Auth:            []ssh.AuthMethod{auth},
			HostKeyCallback: hostKeyCallback,
			Timeout:         d.Config.ConnectTimeout,
		}
	}

	var keyErr error
	if len(target.PrivateKey) > 0 {
		signer, err := parseSigner(target.PrivateKey, target.Passphrase)
		if err != nil {
			return nil, failure.Connection("parse private key", err)
		}
		client, err := sshDial("tcp", addr, cfg(ssh.PublicKeys(signer)))
		if err == nil {
			return d.newSession(client), nil
		}
		if hostKeyErr != nil || !isAuthError(err) {
			return nil, classifyDialError(addr, err, hostKeyErr)
		}
		keyErr = err
	}

	agentClient := sshAgentGetter()
	if agentClient == nil {
		if keyErr != nil {
			return nil, failure.Connection("connect", fmt.Errorf("authentication to %s failed and no SSH agent available for fallback: %w", addr, keyErr))
		}
		return nil, failure.Connection("connect", fmt.Errorf("no authentication method available for %s (no private key configured and no SSH agent found)", addr))
	}

	client, err := sshDial("tcp", addr, cfg(ssh.PublicKeysCallback(agentClient.Signers)))
	if err != nil {
		return nil, classifyDialError(addr, err, hostKeyErr)
	}
	return d.newSession(client), nil
}

func (d *SSHDialer) newSession(c sshClientIface) *sshSession {
	return &sshSession{client: c, timeout: d.Config.CommandTimeout}
}

func parseSigner(key, passphrase []byte) (ssh.Signer, error) {
	if len(passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(key, passphrase)
	}
	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("private key is encrypted and no passphrase was provided")
	}
	return signer, err
}

func isAuthError(err error) bool {
	le := strings.ToLower(err.Error())
	return strings.Contains(le, "unable to authenticate") || strings.Contains(le, "permission denied") || strings.Contains(le, "no supported methods remain")
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	le := strings.ToLower(err.Error())
	return strings.Contains(le, "i/o timeout") || strings.Contains(le, "timed out") || strings.Contains(le, "deadline exceeded")
}

// classifyDialError maps a dial failure onto the failure taxonomy.
func classifyDialError(addr string, err, hostKeyErr error) error {
	var hke *HostKeyError
	switch {
	case errors.As(hostKeyErr, &hke) || errors.As(err, &hke):
		return failure.HostKey("verify host key", hke)
	case hostKeyErr != nil:
		return failure.Connection("verify host key", hostKeyErr)
	case isTimeout(err):
		return failure.Connection("connect", fmt.Errorf("connection to %s timed out: %w", addr, err))
	case isAuthError(err):
		return failure.Connection("connect", fmt.Errorf("authentication failed for %s: %w", addr, err))
	default:
		return failure.Connection("connect", fmt.Errorf("connection to %s failed: %w", addr, err))
	}
}

type sshSession struct {
	client  sshClientIface
	timeout time.Duration
}

// Run executes cmd. A command exceeding the command timeout closes the
// connection and is reported as a connection failure.
func (s *sshSession) Run(ctx context.Context, cmd Command) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- s.client.Exec(cmd, &stdout, &stderr) }()

	op := "run " + cmd.Line
	select {
	case err := <-done:
		if err == nil {
			return stdout.String(), nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = "no output on stderr"
			}
			return "", failure.RemoteCommand(op, fmt.Errorf("exit status %d: %s", exitErr.ExitStatus(), msg))
		}
		return "", failure.Connection(op, err)
	case <-ctx.Done():
		_ = s.client.Close()
		return "", failure.Connection(op, fmt.Errorf("command timed out: %w", ctx.Err()))
	}
}

func (s *sshSession) Close() error { return s.client.Close() }

var errProbeDone = errors.New("patchfleet: host key retrieved")

// GetRemoteHostKey connects to addr only to read its host key.
func GetRemoteHostKey(addr string, timeout time.Duration) (ssh.PublicKey, error) {
	var presented ssh.PublicKey
	cfg := &ssh.ClientConfig{
		User: "patchfleet-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			presented = key
			return errProbeDone
		},
		Timeout: timeout,
	}
	client, err := sshDial("tcp", addr, cfg)
	if err == nil {
		_ = client.Close()
		return nil, fmt.Errorf("handshake with %s succeeded unexpectedly, could not retrieve key", addr)
	}
	if presented != nil {
		return presented, nil
	}
	return nil, classifyDialError(addr, err, nil)
}
