// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package target adapts a game server running as a child process: its
// console input, its log output and the players it reports.
package target

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"

	"github.com/NyaDerator/DiscordBridgeMC/internal/diagnostic"
	"github.com/NyaDerator/DiscordBridgeMC/internal/gateway"
)

// Error codes.
const (
	CodeNotRunning     = "SERVER_NOT_RUNNING"
	CodeAlreadyStarted = "SERVER_ALREADY_STARTED"
	CodeInvalidCommand = "INVALID_CONSOLE_COMMAND"
	CodeStartFailed    = "SERVER_START_FAILED"
	CodeStopTimeout    = "SERVER_STOP_TIMEOUT"
)

// DefaultStopCommand asks the server to save and exit.
const DefaultStopCommand = "stop"

// DefaultKillAfter is how long Stop waits after SIGTERM before killing.
const DefaultKillAfter = 5 * time.Second

// readyMarker is logged once the server accepts commands.
const readyMarker = `For help, type "help"`

// Process runs the game server and exposes its console.
type Process struct {
	argv        []string
	dir         string
	stream      *diagnostic.Stream
	mirror      io.Writer
	stopCommand string
	killAfter   time.Duration
	scheduler   gateway.Scheduler // optional, can be nil
	logger      *slog.Logger

	ready atomic.Bool

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool
	exited  chan struct{}
	exitErr error
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithDir sets the server's working directory.
func WithDir(dir string) ProcessOption {
	return func(p *Process) {
		p.dir = dir
	}
}

// WithMirror copies every server line to w, typically the operator's stdout.
func WithMirror(w io.Writer) ProcessOption {
	return func(p *Process) {
		p.mirror = w
	}
}

// WithStopCommand sets the console command sent by Stop.
func WithStopCommand(command string) ProcessOption {
	return func(p *Process) {
		p.stopCommand = command
	}
}

// WithKillAfter sets the grace period between SIGTERM and SIGKILL in Stop.
func WithKillAfter(d time.Duration) ProcessOption {
	return func(p *Process) {
		p.killAfter = d
	}
}

// WithScheduler sends the stop command on s, behind console commands
// already queued there.
func WithScheduler(s gateway.Scheduler) ProcessOption {
	return func(p *Process) {
		p.scheduler = s
	}
}

// WithProcessLogger sets the logger. Defaults to slog.Default().
func WithProcessLogger(logger *slog.Logger) ProcessOption {
	return func(p *Process) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProcess creates a process for argv that publishes its output on stream.
func NewProcess(argv []string, stream *diagnostic.Stream, opts ...ProcessOption) (*Process, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, oops.Code(CodeStartFailed).Errorf("server command is empty")
	}
	if stream == nil {
		return nil, oops.Code(CodeStartFailed).Errorf("diagnostic stream cannot be nil")
	}
	p := &Process{
		argv:        append([]string(nil), argv...),
		stream:      stream,
		stopCommand: DefaultStopCommand,
		killAfter:   DefaultKillAfter,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the server. Output is published line by line until the
// process exits.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return oops.Code(CodeAlreadyStarted).Errorf("server already started")
	}

	cmd := exec.Command(p.argv[0], p.argv[1:]...) //nolint:gosec // argv comes from the operator's config
	cmd.Dir = p.dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return oops.Code(CodeStartFailed).Wrapf(err, "stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return oops.Code(CodeStartFailed).Wrapf(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return oops.Code(CodeStartFailed).Wrapf(err, "stderr pipe")
	}

	token := p.stream.Subscribe(p.observe)

	if err := cmd.Start(); err != nil {
		p.stream.Unsubscribe(token)
		return oops.Code(CodeStartFailed).With("command", p.argv[0]).Wrapf(err, "starting server")
	}

	p.cmd = cmd
	p.stdin = stdin
	p.running = true
	p.exited = make(chan struct{})
	p.logger.Info("server started", "pid", cmd.Process.Pid, "command", p.argv[0])

	var readers sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		readers.Add(1)
		go func() {
			defer readers.Done()
			if err := p.stream.Consume(r); err != nil {
				p.logger.Warn("server output stopped", "error", err)
			}
		}()
	}

	go func() {
		// All output must be read before Wait closes the pipes.
		readers.Wait()
		err := cmd.Wait()
		p.stream.Unsubscribe(token)

		p.mu.Lock()
		p.running = false
		p.exitErr = err
		p.mu.Unlock()
		p.ready.Store(false)
		close(p.exited)

		if err != nil {
			p.logger.Warn("server exited", "error", err)
		} else {
			p.logger.Info("server exited")
		}
	}()
	return nil
}

func (p *Process) observe(l diagnostic.Line) {
	if p.mirror != nil {
		_, _ = fmt.Fprintln(p.mirror, l.Text)
	}
	if strings.Contains(l.Text, readyMarker) {
		p.ready.Store(true)
	}
}

// Execute writes command to the server console. Commands must be a single
// line.
func (p *Process) Execute(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return oops.Code(CodeNotRunning).Wrap(err)
	}
	if strings.ContainsAny(command, "\r\n") {
		return oops.Code(CodeInvalidCommand).
			With("command", command).
			Errorf("console commands must be a single line")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return oops.Code(CodeNotRunning).Errorf("server is not running")
	}
	if _, err := io.WriteString(p.stdin, command+"\n"); err != nil {
		return oops.Code(CodeNotRunning).With("command", command).Wrapf(err, "writing to server console")
	}
	return nil
}

// Running reports whether the server process is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Ready reports whether the server has finished starting.
func (p *Process) Ready() bool {
	return p.ready.Load()
}

// Done is closed when the process exits. It is nil before Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// Err returns the process exit error once Done is closed.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Stop sends the stop command and waits for the process to exit. When ctx
// ends first the process is terminated, then killed.
func (p *Process) Stop(ctx context.Context) error {
	done := p.Done()
	if done == nil {
		return nil
	}

	if p.Running() {
		if err := p.sendStop(ctx); err != nil {
			p.logger.Debug("stop command not delivered", "error", err)
		}
		p.mu.Lock()
		_ = p.stdin.Close()
		p.mu.Unlock()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	p.mu.Lock()
	proc := p.cmd.Process
	p.mu.Unlock()
	_ = proc.Signal(syscall.SIGTERM)

	select {
	case <-done:
	case <-time.After(p.killAfter):
		_ = proc.Kill()
		<-done
	}
	return oops.Code(CodeStopTimeout).Wrapf(ctx.Err(), "server did not stop in time")
}

func (p *Process) sendStop(ctx context.Context) error {
	execCtx := context.WithoutCancel(ctx)
	if p.scheduler == nil {
		return p.Execute(execCtx, p.stopCommand)
	}

	sent := make(chan error, 1)
	if err := p.scheduler.Run(func() { sent <- p.Execute(execCtx, p.stopCommand) }); err != nil {
		p.logger.Debug("scheduler unavailable, writing stop command directly", "error", err)
		return p.Execute(execCtx, p.stopCommand)
	}

	select {
	case err := <-sent:
		return err
	case <-ctx.Done():
		return oops.Code(CodeStopTimeout).Wrapf(ctx.Err(), "waiting to send stop command")
	case <-p.scheduler.Stopped():
		select {
		case err := <-sent:
			return err
		default:
		}
		return p.Execute(execCtx, p.stopCommand)
	}
}
