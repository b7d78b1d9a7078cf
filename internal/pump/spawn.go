package pump

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// SpawnError means the child process could not be started. The shipper
// exits with ExitSpawnFailure.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("pump: failed to run %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Result describes a finished child process
type Result struct {
	Stats
	ExitCode int
}

// Spawn runs command, a program followed by space-separated arguments, and
// pumps its merged stdout and stderr. The child inherits stdin. Signals
// received on signals are forwarded to the child; when ctx is done the child
// is killed. Spawn returns once the child has exited and all of its output
// has been shipped.
func (p *Pump) Spawn(ctx context.Context, command string, signals <-chan os.Signal) (Result, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return Result{}, &SpawnError{Command: command, Err: errors.New("empty command")}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &SpawnError{Command: command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, &SpawnError{Command: command, Err: err}
	}

	p.logger.Info("starting child process", "cmd", argv[0], "args", argv[1:])
	if err := cmd.Start(); err != nil {
		return Result{}, &SpawnError{Command: command, Err: err}
	}
	p.logger.Info("child process running", "pid", cmd.Process.Pid)

	stopForward := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		p.forward(ctx, cmd.Process, signals, stopForward)
	}()

	lines := make(chan []byte)
	var g errgroup.Group
	for _, stream := range []io.Reader{stdout, stderr} {
		stream := stream
		g.Go(func() error {
			// keep draining after ctx is done so the child never blocks on a full pipe
			return p.scan(context.Background(), stream, lines)
		})
	}

	readErr := make(chan error, 1)
	go func() {
		readErr <- g.Wait()
		close(lines)
	}()

	stats := p.consume(context.Background(), lines)
	scanErr := <-readErr

	waitErr := cmd.Wait()
	close(stopForward)
	<-forwarded

	res := Result{Stats: stats, ExitCode: exitCode(cmd.ProcessState)}
	p.logger.Info("child process finished", "code", res.ExitCode, "state", cmd.ProcessState.String())

	if scanErr != nil {
		return res, scanErr
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, waitErr
	}
	return res, nil
}

func (p *Pump) forward(ctx context.Context, proc *os.Process, signals <-chan os.Signal, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				p.logger.Warn("failed to kill child process", "error", err)
			}
			<-stop
			return
		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			p.logger.Info("forwarding signal to child process", "signal", sig.String())
			if err := proc.Signal(sig); err != nil {
				p.logger.Warn("child process failed to stop", "signal", sig.String(), "error", err)
			}
		}
	}
}

// exitCode returns the child's exit status, or 128 plus the signal number
// when it was killed by a signal
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
