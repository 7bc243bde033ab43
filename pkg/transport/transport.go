package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/anchieta/coresched/pkg/types"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Sentinel error kinds. Callers classify failures with errors.Is against
// these, never by string-matching.
var (
	ErrConnect = errors.New("connect-error")
	ErrExec    = errors.New("exec-error")
	ErrCopy    = errors.New("copy-error")
)

// connectTimeout bounds every SSH dial.
const connectTimeout = 10 * time.Second

// Direction selects which side of a copy-tree call is the source.
type Direction int

const (
	// OriginToExec copies from the job's origin host/path to its execution directory.
	OriginToExec Direction = iota
	// ExecToOrigin copies the finished execution directory back to the origin.
	ExecToOrigin
)

// Transport is the capability surface every supervisor depends on. It never
// interprets stdout and never decides what to run -- pure capability, no
// policy.
type Transport interface {
	// Exec runs command on host and returns its combined stdout.
	Exec(ctx context.Context, host *types.Host, command string) (string, error)

	// ExecDetached launches command on host and returns once it has been
	// orphaned from the control channel; the remote process survives the
	// session closing.
	ExecDetached(ctx context.Context, host *types.Host, command string) error

	// CopyTree copies a directory tree between two hosts.
	CopyTree(ctx context.Context, srcHost *types.Host, srcPath string, dstHost *types.Host, dstPath string, dir Direction) error
}

// SSH is the production Transport, implemented with golang.org/x/crypto/ssh
// and github.com/pkg/sftp. Host-key verification is intentionally disabled:
// this operates inside an operator-declared trust domain (a catalog of
// hosts the operator already controls credentials for), not the open
// internet.
type SSH struct{}

// New returns the production SSH-backed Transport.
func New() *SSH { return &SSH{} }

func clientConfig(host *types.Host) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User:            host.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(host.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // trust domain, not the open internet
		Timeout:         connectTimeout,
	}
}

func dial(host *types.Host) (*ssh.Client, error) {
	client, err := ssh.Dial("tcp", host.Address, clientConfig(host))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, host.Name, err)
	}
	return client, nil
}

// Exec implements Transport.
func (s *SSH) Exec(ctx context.Context, host *types.Host, command string) (string, error) {
	client, err := dial(host)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrConnect, host.Name, err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return out.String(), fmt.Errorf("%w: %s: %v", ErrExec, host.Name, ctx.Err())
	case err := <-done:
		if err != nil {
			return out.String(), fmt.Errorf("%w: %s: %v", ErrExec, host.Name, err)
		}
		return out.String(), nil
	}
}

// ExecDetached implements Transport. The command is wrapped so the remote
// shell starts it under nohup, discards its stdout/stderr to /dev/null,
// and disowns it before the session is closed. This call does not write
// the command's output to any log file; a command that wants a log must
// redirect its own output (the scheduler's launcher script does so).
func (s *SSH) ExecDetached(ctx context.Context, host *types.Host, command string) error {
	client, err := dial(host)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnect, host.Name, err)
	}
	defer session.Close()

	wrapped := fmt.Sprintf("nohup %s >/dev/null 2>&1 < /dev/null & disown", command)
	if err := session.Run(wrapped); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExec, host.Name, err)
	}
	return nil
}

// CopyTree implements Transport. Both legs ride over SFTP sessions dialed
// from this process, so neither host needs to trust the other directly:
// this process, not either remote host, is the one relaying bytes.
func (s *SSH) CopyTree(ctx context.Context, srcHost *types.Host, srcPath string, dstHost *types.Host, dstPath string, dir Direction) error {
	srcClient, err := dial(srcHost)
	if err != nil {
		return err
	}
	defer srcClient.Close()

	dstClient, err := dial(dstHost)
	if err != nil {
		return err
	}
	defer dstClient.Close()

	srcSFTP, err := sftp.NewClient(srcClient)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCopy, srcHost.Name, err)
	}
	defer srcSFTP.Close()

	dstSFTP, err := sftp.NewClient(dstClient)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCopy, dstHost.Name, err)
	}
	defer dstSFTP.Close()

	if err := dstSFTP.MkdirAll(dstPath); err != nil {
		return fmt.Errorf("%w: mkdir %s on %s: %v", ErrCopy, dstPath, dstHost.Name, err)
	}

	walker := srcSFTP.Walk(srcPath)
	for walker.Step() {
		if walker.Err() != nil {
			return fmt.Errorf("%w: walk %s: %v", ErrCopy, srcPath, walker.Err())
		}
		rel, err := filepath.Rel(srcPath, walker.Path())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCopy, err)
		}
		target := path.Join(dstPath, filepath.ToSlash(rel))

		info := walker.Stat()
		if info.IsDir() {
			if err := dstSFTP.MkdirAll(target); err != nil {
				return fmt.Errorf("%w: mkdir %s on %s: %v", ErrCopy, target, dstHost.Name, err)
			}
			continue
		}

		if err := copyFile(srcSFTP, walker.Path(), dstSFTP, target); err != nil {
			return fmt.Errorf("%w: %s -> %s: %v", ErrCopy, walker.Path(), target, err)
		}
	}

	return nil
}

func copyFile(src *sftp.Client, srcPath string, dst *sftp.Client, dstPath string) error {
	srcFile, err := src.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := dst.Create(dstPath)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}

	// Normalize destination permissions to world-readable so the owning
	// user can inspect results regardless of the remote umask.
	return dst.Chmod(dstPath, os.FileMode(0o644))
}
