// Package supervisor owns the lifecycle of one gateway child process:
// launch, readiness synchronization, line-at-a-time log reads and bounded
// termination.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"n2kharness/internal/rdlog"
	"n2kharness/internal/streamqueue"
	"n2kharness/pkg/logging"
)

const subsystem = "Supervisor"

const (
	DefaultReadyTimeout = 60 * time.Second
	DefaultExitTimeout  = 600 * time.Second
	DefaultLineTimeout  = 5 * time.Second

	// readerGrace bounds the wait for the output readers after the child
	// process group is gone.
	readerGrace = 5 * time.Second
)

// Options describes one child launch.
type Options struct {
	// Argv is the full command line, see BuildArgv.
	Argv []string
	// Env overrides variables for this child only.
	Env map[string]string
	Dir string
	// ExtraFiles become descriptors 3, 4, ... in the child.
	ExtraFiles []*os.File
	// Probe is consulted for every line until it reports ready. A nil
	// probe makes Start return as soon as the process is running.
	Probe ReadinessProbe

	ReadyTimeout time.Duration
	ExitTimeout  time.Duration
	LineTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.ExitTimeout <= 0 {
		o.ExitTimeout = DefaultExitTimeout
	}
	if o.LineTimeout <= 0 {
		o.LineTimeout = DefaultLineTimeout
	}
	return o
}

// Child is the handle of one supervised process. It must be stopped on
// every exit path; Stop is idempotent.
type Child struct {
	cmd   *exec.Cmd
	opts  Options
	queue *streamqueue.Queue

	exited  chan struct{}
	waitErr error

	readersDone chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// Start launches the child and blocks until the readiness probe accepts a
// line. On any failure the child is killed before Start returns.
func Start(ctx context.Context, opts Options) (*Child, error) {
	opts = opts.withDefaults()
	if len(opts.Argv) == 0 {
		return nil, &StartupError{Reason: "empty command line"}
	}

	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = mergeEnv(os.Environ(), opts.Env)
	cmd.ExtraFiles = opts.ExtraFiles
	configureProcAttr(cmd)

	// Plain OS pipes keep Wait independent from the readers: the parent
	// holds only the read ends, which reach EOF once every holder of the
	// write ends is gone.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &StartupError{Reason: "creating stdout pipe", Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, &StartupError{Reason: "creating stderr pipe", Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	logging.Debug(subsystem, "starting %v", opts.Argv)
	startErr := cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, &StartupError{Reason: "exec " + opts.Argv[0], Err: startErr}
	}

	c := &Child{
		cmd:         cmd,
		opts:        opts,
		queue:       streamqueue.New(),
		exited:      make(chan struct{}),
		readersDone: make(chan struct{}),
	}
	c.queue.Attach(string(rdlog.Stdout), stdoutR)
	c.queue.Attach(string(rdlog.Stderr), stderrR)

	go func() {
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()
	go func() {
		c.queue.Wait()
		stdoutR.Close()
		stderrR.Close()
		close(c.readersDone)
	}()

	if opts.Probe != nil {
		if err := c.waitReady(ctx); err != nil {
			if killErr := c.Kill(); killErr != nil {
				logging.Debug(subsystem, "kill after failed startup: %v", killErr)
			}
			return nil, err
		}
	}

	logging.Debug(subsystem, "child %d ready", cmd.Process.Pid)
	return c, nil
}

func (c *Child) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(c.opts.ReadyTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &StartupError{
				Reason: "no readiness signal",
				Err:    &TimeoutError{Op: "readiness", Timeout: c.opts.ReadyTimeout, Err: streamqueue.ErrTimeout},
			}
		}

		line, err := c.queue.Get(ctx, remaining)
		switch {
		case errors.Is(err, streamqueue.ErrTimeout):
			continue
		case errors.Is(err, streamqueue.ErrClosed):
			return &StartupError{Reason: "process closed its output before announcing readiness", Err: c.exitStatus(time.Second)}
		case err != nil:
			return &StartupError{Reason: "readiness wait aborted", Err: err}
		}

		parsed := rdlog.Parse(line.Text, rdlog.Stream(line.Source))
		logging.Debug(subsystem, "[%s] %s", parsed.Stream, parsed.Raw)

		ready, err := c.opts.Probe.Check(parsed)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
	}
}

// exitStatus waits up to d for the process to be reaped and returns its
// wait error, or a description when it is still running.
func (c *Child) exitStatus(d time.Duration) error {
	select {
	case <-c.exited:
		if c.waitErr == nil {
			return errors.New("process exited with status 0")
		}
		return c.waitErr
	case <-time.After(d):
		return errors.New("process still running")
	}
}

// Readline returns the next unread line from stdout or stderr. A
// non-positive timeout uses Options.LineTimeout.
func (c *Child) Readline(timeout time.Duration) (rdlog.LogLine, error) {
	return c.ReadlineContext(context.Background(), timeout)
}

// ReadlineContext is Readline bounded additionally by ctx.
func (c *Child) ReadlineContext(ctx context.Context, timeout time.Duration) (rdlog.LogLine, error) {
	if timeout <= 0 {
		timeout = c.opts.LineTimeout
	}
	line, err := c.queue.Get(ctx, timeout)
	if err != nil {
		if errors.Is(err, streamqueue.ErrTimeout) {
			return rdlog.LogLine{}, &TimeoutError{Op: "readline", Timeout: timeout, Err: err}
		}
		return rdlog.LogLine{}, fmt.Errorf("readline: %w", err)
	}
	parsed := rdlog.Parse(line.Text, rdlog.Stream(line.Source))
	logging.Debug(subsystem, "[%s] %s", parsed.Stream, parsed.Raw)
	return parsed, nil
}

// Pid returns the child's process id.
func (c *Child) Pid() int {
	return c.cmd.Process.Pid
}

// Exited is closed once the process has been reaped.
func (c *Child) Exited() <-chan struct{} {
	return c.exited
}

// ExitErr returns the wait error once Exited is closed.
func (c *Child) ExitErr() error {
	select {
	case <-c.exited:
		return c.waitErr
	default:
		return nil
	}
}

// Stop interrupts the child, waits up to the exit timeout and kills the
// process group when the child does not comply. Later calls return the
// first result.
func (c *Child) Stop() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.stop()
	})
	return c.stopErr
}

// Close is Stop, for use with defer.
func (c *Child) Close() error {
	return c.Stop()
}

func (c *Child) stop() error {
	pid := c.Pid()

	select {
	case <-c.exited:
		c.reapGroup(pid)
		if c.waitErr != nil {
			return &UnexpectedExitError{Pid: pid, Err: c.waitErr}
		}
		return nil
	default:
	}

	logging.Debug(subsystem, "interrupting process group %d", pid)
	if err := interruptProcessGroup(pid); err != nil {
		logging.Debug(subsystem, "interrupt %d: %v", pid, err)
	}

	timer := time.NewTimer(c.opts.ExitTimeout)
	defer timer.Stop()

	select {
	case <-c.exited:
		logging.Debug(subsystem, "process %d exited: %v", pid, c.waitErr)
		c.reapGroup(pid)
		return nil
	case <-timer.C:
		logging.Warn(subsystem, "process %d ignored interrupt for %s, killing", pid, c.opts.ExitTimeout)
		killErr := killProcessGroup(pid)
		select {
		case <-c.exited:
		case <-time.After(readerGrace):
		}
		c.waitReaders()
		return &ShutdownTimeoutError{Pid: pid, Timeout: c.opts.ExitTimeout, KillErr: killErr}
	}
}

// Kill terminates the process group immediately. A later Stop returns nil.
func (c *Child) Kill() error {
	var err error
	c.stopOnce.Do(func() {
		pid := c.Pid()
		err = killProcessGroup(pid)
		select {
		case <-c.exited:
		case <-time.After(c.opts.ExitTimeout):
			err = errors.Join(err, &ShutdownTimeoutError{Pid: pid, Timeout: c.opts.ExitTimeout})
		}
		c.waitReaders()
	})
	return err
}

// reapGroup kills whatever the child left behind in its process group and
// waits for the output readers.
func (c *Child) reapGroup(pid int) {
	if err := killProcessGroup(pid); err != nil {
		logging.Debug(subsystem, "group %d already gone: %v", pid, err)
	}
	c.waitReaders()
}

func (c *Child) waitReaders() {
	select {
	case <-c.readersDone:
	case <-time.After(readerGrace):
		logging.Warn(subsystem, "output readers still open %s after exit", readerGrace)
	}
}
