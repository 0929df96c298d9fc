// Package linkproc runs the link program for one role and captures what it
// prints.
package linkproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pingsantohq/linkbench/pkg/types"
)

// ErrExecutableRequired is returned when no link program path was given.
var ErrExecutableRequired = errors.New("link executable path required")

// Capture is everything a role process printed on stdout over its lifetime.
type Capture struct {
	Role   types.Role
	Stdout []byte
	// Forced is set when the process outlived the grace period and was killed.
	Forced bool
	// ExitErr is the process's exit error, if any. Callers are not required
	// to inspect it; a SIGTERM exit is the normal case.
	ExitErr error
}

// Process is one running role of the link program.
type Process interface {
	Role() types.Role
	// Terminate asks the process to exit. It is a no-op once the process is gone.
	Terminate() error
	// Wait blocks until the process exits and its output is drained. A
	// positive grace bounds the wait, after which the process is killed.
	Wait(grace time.Duration) (Capture, error)
}

// Launcher starts role processes.
type Launcher interface {
	Launch(ctx context.Context, role types.Role, executable, configPath string) (Process, error)
}

// ExecLauncher starts the link program as a child process with the
// configuration path as its only argument.
type ExecLauncher struct {
	Logger *zap.SugaredLogger
	// Stderr receives the child's stderr. Nil discards it.
	Stderr io.Writer
	// WaitDelay bounds how long output draining may continue after the
	// child exits, for grandchildren that keep the pipe open.
	WaitDelay time.Duration
}

func (l *ExecLauncher) Launch(ctx context.Context, role types.Role, executable, configPath string) (Process, error) {
	if strings.TrimSpace(executable) == "" {
		return nil, ErrExecutableRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stdout := &bytes.Buffer{}
	cmd := exec.Command(executable, configPath)
	cmd.Stdout = stdout
	cmd.Stderr = l.Stderr
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Second
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch %s process %q: %w", role, executable, err)
	}
	if l.Logger != nil {
		l.Logger.Debugf("launched %s process pid=%d config=%s", role, cmd.Process.Pid, configPath)
	}

	p := &execProcess{
		role:   role,
		cmd:    cmd,
		stdout: stdout,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	role   types.Role
	cmd    *exec.Cmd
	stdout *bytes.Buffer

	done    chan struct{}
	waitErr error
}

func (p *execProcess) Role() types.Role { return p.role }

func (p *execProcess) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("terminate %s process: %w", p.role, err)
	}
	return nil
}

func (p *execProcess) Wait(grace time.Duration) (Capture, error) {
	forced := false
	if grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-p.done:
			timer.Stop()
		case <-timer.C:
			forced = true
			if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				return Capture{Role: p.role}, fmt.Errorf("kill %s process: %w", p.role, err)
			}
			<-p.done
		}
	} else {
		<-p.done
	}

	// The buffer is only read after Wait returned, so the copy goroutine is done with it.
	return Capture{
		Role:    p.role,
		Stdout:  p.stdout.Bytes(),
		Forced:  forced,
		ExitErr: p.waitErr,
	}, nil
}
