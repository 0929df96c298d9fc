package linkproc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/pingsantohq/linkbench/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-link")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestLaunchPassesConfigPathAsSoleArgument(t *testing.T) {
	script := writeScript(t, `echo "args=$# config=$1"`+"\n")
	l := &ExecLauncher{}

	p, err := l.Launch(context.Background(), types.RoleReceive, script, "./rx_conf.ron")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	capture, err := p.Wait(5 * time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := strings.TrimSpace(string(capture.Stdout)); got != "args=1 config=./rx_conf.ron" {
		t.Fatalf("unexpected output %q", got)
	}
	if capture.Role != types.RoleReceive || capture.Forced {
		t.Fatalf("unexpected capture %+v", capture)
	}
}

func TestTerminateAfterExitIsNoop(t *testing.T) {
	script := writeScript(t, "echo 'Packet sent.'\n")
	l := &ExecLauncher{}

	p, err := l.Launch(context.Background(), types.RoleTransmit, script, "tx_conf.ron")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	capture, err := p.Wait(0)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate after exit: %v", err)
	}
	if string(capture.Stdout) != "Packet sent.\n" {
		t.Fatalf("unexpected output %q", capture.Stdout)
	}
}

func TestTerminateLetsProcessFlush(t *testing.T) {
	script := writeScript(t, `trap 'echo "Received"; exit 0' TERM
echo ready
while :; do sleep 0.05; done
`)
	l := &ExecLauncher{}

	p, err := l.Launch(context.Background(), types.RoleReceive, script, "rx_conf.ron")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	capture, err := p.Wait(5 * time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if capture.Forced {
		t.Fatalf("expected graceful exit")
	}
	if string(capture.Stdout) != "ready\nReceived\n" {
		t.Fatalf("expected output flushed on termination, got %q", capture.Stdout)
	}
}

func TestWaitEscalatesToKill(t *testing.T) {
	script := writeScript(t, `trap '' TERM
echo stubborn
while :; do sleep 0.05; done
`)
	l := &ExecLauncher{WaitDelay: 500 * time.Millisecond}

	p, err := l.Launch(context.Background(), types.RoleTransmit, script, "tx_conf.ron")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	start := time.Now()
	capture, err := p.Wait(300 * time.Millisecond)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !capture.Forced {
		t.Fatalf("expected forced kill")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("wait took too long after kill: %s", elapsed)
	}
	if !strings.Contains(string(capture.Stdout), "stubborn") {
		t.Fatalf("expected output captured before kill, got %q", capture.Stdout)
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	l := &ExecLauncher{}
	_, err := l.Launch(context.Background(), types.RoleReceive, filepath.Join(t.TempDir(), "does-not-exist"), "rx_conf.ron")
	if err == nil {
		t.Fatalf("expected launch failure")
	}
}

func TestLaunchEmptyExecutable(t *testing.T) {
	l := &ExecLauncher{}
	if _, err := l.Launch(context.Background(), types.RoleReceive, "  ", "rx_conf.ron"); !errors.Is(err, ErrExecutableRequired) {
		t.Fatalf("expected ErrExecutableRequired got %v", err)
	}
}

func TestLaunchCanceledContext(t *testing.T) {
	script := writeScript(t, "echo never\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := &ExecLauncher{}
	if _, err := l.Launch(ctx, types.RoleReceive, script, "rx_conf.ron"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
}
