package sshexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/philippe-eecs/orchestra/internal/domain/execution"
)

// rsyncTree mirrors projectPath to destPath on the remote host using the
// rsync CLI over ssh. The destination directory is created by rsync.
func rsyncTree(ctx context.Context, cfg *execution.RemoteConfig, projectPath, destPath string) error {
	user := cfg.User
	if user == "" {
		user = "root"
	}

	transport := []string{"ssh", "-o", "BatchMode=yes", "-o", "StrictHostKeyChecking=accept-new"}
	if cfg.Port != 0 && cfg.Port != 22 {
		transport = append(transport, "-p", fmt.Sprintf("%d", cfg.Port))
	}
	if cfg.KeyPath != "" {
		transport = append(transport, "-i", cfg.KeyPath)
	}

	args := []string{
		"-az", "--delete",
		"--exclude", ".git",
		"-e", strings.Join(transport, " "),
		strings.TrimSuffix(projectPath, "/") + "/",
		fmt.Sprintf("%s@%s:%s/", user, cfg.Host, destPath),
	}

	cmd := exec.CommandContext(ctx, "rsync", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rsync: %w: %s", err, strings.TrimSpace(out.String()))
	}
	return nil
}
