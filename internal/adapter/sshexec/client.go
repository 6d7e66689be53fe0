package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/philippe-eecs/orchestra/internal/domain/execution"
)

// connectTimeout bounds the TCP dial to the remote host.
const connectTimeout = 10 * time.Second

// Runner executes one shell command on the remote host and returns its
// combined output and exit code.
type Runner interface {
	Run(ctx context.Context, command string) (string, int, error)
	Close() error
}

// client is an SSH connection to the configured remote host.
type client struct {
	conn *ssh.Client
}

// Dial opens an SSH connection per the remote config: key auth, bounded
// connect timeout, accept-new host key policy.
func Dial(cfg *execution.RemoteConfig) (Runner, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, errors.New("sshexec: remote host is required")
	}

	user := cfg.User
	if user == "" {
		user = "root"
	}
	port := cfg.Port
	if port == 0 {
		port = 22
	}

	auth, err := keyAuth(cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := acceptNewHostKey()
	if err != nil {
		return nil, err
	}

	sshCfg := &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         connectTimeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", port))
	conn, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("sshexec: dial %s: %w", addr, err)
	}
	return &client{conn: conn}, nil
}

func keyAuth(keyPath string) ([]ssh.AuthMethod, error) {
	if keyPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("sshexec: resolve home: %w", err)
		}
		keyPath = filepath.Join(home, ".ssh", "id_ed25519")
	}

	data, err := os.ReadFile(keyPath) //nolint:gosec // G304: key path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("sshexec: read key %s: %w", keyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("sshexec: parse key %s: %w", keyPath, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// acceptNewHostKey checks known hosts and appends unknown keys instead of
// refusing them; a changed key for a known host still fails.
func acceptNewHostKey() (ssh.HostKeyCallback, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("sshexec: resolve home: %w", err)
	}
	path := filepath.Join(home, ".ssh", "known_hosts")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("sshexec: prepare known_hosts dir: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			return nil, fmt.Errorf("sshexec: create known_hosts: %w", err)
		}
	}

	check, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("sshexec: load known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := check(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
			// Unknown host: record and accept.
			line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
			f, openErr := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
			if openErr != nil {
				return openErr
			}
			defer f.Close()
			_, writeErr := f.WriteString(line + "\n")
			return writeErr
		}
		return err
	}, nil
}

// Run executes one command in a fresh session. The remote side is torn
// down if the context is cancelled.
func (c *client) Run(ctx context.Context, command string) (string, int, error) {
	sess, err := c.conn.NewSession()
	if err != nil {
		return "", -1, fmt.Errorf("sshexec: new session: %w", err)
	}
	defer sess.Close()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out

	done := make(chan error, 1)
	if err := sess.Start(command); err != nil {
		return "", -1, fmt.Errorf("sshexec: start: %w", err)
	}
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGTERM)
		_ = sess.Close()
		return out.String(), -1, ctx.Err()
	case err := <-done:
		if err == nil {
			return out.String(), 0, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), exitErr.ExitStatus(), nil
		}
		return out.String(), -1, err
	}
}

// Close tears down the connection.
func (c *client) Close() error {
	return c.conn.Close()
}
