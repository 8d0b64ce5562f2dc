// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DiscordBridgeMC Contributors

// Package gateway decides whether a remotely requested console command may
// run, runs it on the server's tick context and reports whether the server
// accepted it.
//
// A request moves through authorization, filtering and cooldown checks
// before it is dispatched. After dispatch the server's diagnostic stream is
// watched for a fixed capture window; failure evidence seen in that window
// turns the verdict into EXECUTION_FAILED. Cooldowns are committed only for
// successful verdicts.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NyaDerator/DiscordBridgeMC/internal/config"
	"github.com/NyaDerator/DiscordBridgeMC/internal/interceptor"
	"github.com/NyaDerator/DiscordBridgeMC/internal/rules"
	"github.com/NyaDerator/DiscordBridgeMC/pkg/errutil"
)

var tracer = otel.Tracer("bridgemc/gateway")

// DefaultDispatchGrace is how long past the capture window Handle waits for
// the tick context to report a verdict.
const DefaultDispatchGrace = 5 * time.Second

// Actor is an online player the gateway can impersonate.
type Actor struct {
	Name string
	ID   string
}

// Executor submits a command to the server console.
type Executor interface {
	Execute(ctx context.Context, command string) error
}

// Scheduler runs functions on the server's single-threaded tick context.
// Stopped is closed once the scheduler stops; queued functions are then
// dropped without running. A nil channel means it never stops.
type Scheduler interface {
	Run(fn func()) error
	After(d time.Duration, fn func()) error
	Stopped() <-chan struct{}
}

// Directory resolves online players by name.
type Directory interface {
	Lookup(name string) (Actor, bool)
}

// IdentityProvider answers role membership for requesters.
type IdentityProvider interface {
	HasRole(ctx context.Context, requester, role string) bool
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Current() *config.Snapshot
}

// CooldownStore is the subset of cooldown.Store the gateway uses. TryBegin
// and TryBeginGlobal check the cooldown and claim the slot in one step, so a
// second request for the same slot is refused while the first is in flight.
type CooldownStore interface {
	Remaining(actor string) time.Duration
	Reserve(actor string, d time.Duration)
	Reset(actor string)
	TryBegin(actor string) (time.Duration, bool)
	End(actor string)
	GlobalRemaining() time.Duration
	ReserveGlobal(d time.Duration)
	ResetGlobal()
	TryBeginGlobal() (time.Duration, bool)
	EndGlobal()
}

// StatsRecorder receives every verdict. Implementations must not block for
// long.
type StatsRecorder interface {
	Record(ctx context.Context, v Verdict)
}

// Deps are the gateway's required collaborators.
type Deps struct {
	Executor  Executor
	Scheduler Scheduler
	Directory Directory
	Identity  IdentityProvider
	Config    ConfigSource
	Cooldowns CooldownStore
	Stream    interceptor.Stream
}

// Request is one inbound command request. Target names the player to
// impersonate; empty means the console.
type Request struct {
	Requester string
	Target    string
	Command   string
}

// Verdict is the final result of a request.
type Verdict struct {
	RequestID    ulid.ULID
	Requester    string
	Stage        State
	Command      string
	FinalCommand string
	Target       string
	ActorID      string
	Output       string
	Err          error
	Remaining    time.Duration
	Duration     time.Duration
}

// OK reports whether the command ran without failure evidence.
func (v Verdict) OK() bool {
	return v.Err == nil
}

// Code returns the verdict's error code, or "" on success.
func (v Verdict) Code() string {
	return Code(v.Err)
}

// Gateway handles command requests. It is safe for concurrent use.
type Gateway struct {
	executor  Executor
	scheduler Scheduler
	directory Directory
	identity  IdentityProvider
	config    ConfigSource
	cooldowns CooldownStore
	stream    interceptor.Stream

	stats     StatsRecorder // optional, can be nil
	logger    *slog.Logger
	minWindow time.Duration
	grace     time.Duration
	now       func() time.Time
}

// Option configures a Gateway during construction.
type Option func(*Gateway)

// WithStats records every verdict with s.
func WithStats(s StatsRecorder) Option {
	return func(g *Gateway) {
		g.stats = s
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMinCaptureWindow sets the shortest capture window, normally one tick of
// the scheduler.
func WithMinCaptureWindow(d time.Duration) Option {
	return func(g *Gateway) {
		g.minWindow = d
	}
}

// WithDispatchGrace bounds how long past the capture window Handle waits for
// a dispatched command's verdict. Defaults to DefaultDispatchGrace.
func WithDispatchGrace(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.grace = d
		}
	}
}

// New creates a gateway. Returns an error if a required dependency is nil.
func New(deps Deps, opts ...Option) (*Gateway, error) {
	switch {
	case deps.Executor == nil:
		return nil, ErrNilExecutor
	case deps.Scheduler == nil:
		return nil, ErrNilScheduler
	case deps.Directory == nil:
		return nil, ErrNilDirectory
	case deps.Identity == nil:
		return nil, ErrNilIdentity
	case deps.Config == nil:
		return nil, ErrNilConfig
	case deps.Cooldowns == nil:
		return nil, ErrNilCooldowns
	case deps.Stream == nil:
		return nil, ErrNilStream
	}

	g := &Gateway{
		executor:  deps.Executor,
		scheduler: deps.Scheduler,
		directory: deps.Directory,
		identity:  deps.Identity,
		config:    deps.Config,
		cooldowns: deps.Cooldowns,
		stream:    deps.Stream,
		logger:    slog.Default(),
		grace:     DefaultDispatchGrace,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Handle runs req to a verdict. It blocks until the capture window closes, ctx
// is done, the scheduler stops or the dispatch grace runs out; the last three
// yield INTERNAL_ERROR. A command already dispatched still completes and
// commits its cooldown when ctx ends first. While a command is in flight,
// further requests for the same actor, or for the console, are refused as on
// cooldown.
func (g *Gateway) Handle(ctx context.Context, req Request) (v Verdict) {
	start := g.now()
	v = Verdict{
		RequestID: ulid.Make(),
		Requester: req.Requester,
		Stage:     StateReceived,
		Command:   strings.TrimSpace(req.Command),
		Target:    strings.TrimSpace(req.Target),
	}

	ctx, span := tracer.Start(ctx, "gateway.handle",
		trace.WithAttributes(
			attribute.String("gateway.request_id", v.RequestID.String()),
			attribute.String("gateway.requester", v.Requester),
			attribute.String("gateway.target", v.Target),
		),
	)
	defer func() {
		v.Duration = g.now().Sub(start)
		g.finish(ctx, span, &v)
	}()

	snap := g.config.Current()
	if snap == nil {
		v.Err = ErrInternal(oops.Errorf("no configuration loaded"))
		return v
	}

	v.Stage = StateAuthorizingRole
	if snap.RequiredRole != "" && !g.identity.HasRole(ctx, req.Requester, snap.RequiredRole) {
		v.Err = ErrForbidden(req.Requester, snap.RequiredRole)
		return v
	}

	v.Stage = StateFiltering
	if v.Command == "" {
		v.Err = rules.ErrFilteredCommand(v.Command)
		return v
	}
	if out := snap.Engine.Evaluate(v.Command, v.Target); !out.Allowed {
		v.Err = out.Err()
		return v
	}

	v.Stage = StateRateLimitCheck
	var actor Actor
	if v.Target != "" {
		var ok bool
		actor, ok = g.directory.Lookup(v.Target)
		if !ok {
			v.Err = ErrActorNotFound(v.Target)
			return v
		}
		v.ActorID = actor.ID
	}
	release, rem, ok := g.claim(snap, actor)
	if !ok {
		v.Remaining = rem
		if actor.Name != "" {
			v.Err = ErrOnCooldown(actor.Name, rem)
		} else {
			v.Err = ErrGlobalOnCooldown(rem)
		}
		return v
	}

	v.FinalCommand = BuildCommand(snap.Impersonation, v.Command, actor.Name)
	res := g.dispatch(ctx, snap, v.FinalCommand, actor, release)
	v.Stage = res.stage
	v.Output = res.output
	v.Err = res.err
	return v
}

// BuildCommand returns the console command for command run as actor. An
// empty actor runs the command as the console.
func BuildCommand(template, command, actor string) string {
	if actor == "" {
		return command
	}
	if template == "" {
		template = config.DefaultImpersonation
	}
	return strings.NewReplacer("{actor}", actor, "{command}", command).Replace(template)
}

// claim checks the cooldown that applies to actor and, when that cooldown is
// configured, holds its slot until release is called. A slot held by another
// request reports the full configured cooldown as remaining.
func (g *Gateway) claim(snap *config.Snapshot, actor Actor) (release func(), remaining time.Duration, ok bool) {
	var begin func() (time.Duration, bool)
	var end func()
	var full time.Duration
	switch {
	case actor.Name != "" && snap.ActorCooldown > 0:
		begin = func() (time.Duration, bool) { return g.cooldowns.TryBegin(actor.ID) }
		end = func() { g.cooldowns.End(actor.ID) }
		full = snap.ActorCooldown
	case actor.Name != "":
		if rem := g.cooldowns.Remaining(actor.ID); rem > 0 {
			return nil, rem, false
		}
		return func() {}, 0, true
	case snap.GlobalCooldown > 0:
		begin = g.cooldowns.TryBeginGlobal
		end = g.cooldowns.EndGlobal
		full = snap.GlobalCooldown
	default:
		if rem := g.cooldowns.GlobalRemaining(); rem > 0 {
			return nil, rem, false
		}
		return func() {}, 0, true
	}

	rem, ok := begin()
	if !ok {
		if rem <= 0 {
			rem = full
		}
		return nil, rem, false
	}
	var once sync.Once
	return func() { once.Do(end) }, 0, true
}

type result struct {
	stage  State
	output string
	err    error
}

// dispatch schedules the command on the tick context, then closes the capture
// session one capture window later on the same context. release is called
// once the verdict is known, after the cooldown is committed on success.
func (g *Gateway) dispatch(ctx context.Context, snap *config.Snapshot, command string, actor Actor, release func()) result {
	done := make(chan result, 1)
	window := max(snap.CaptureWindow, g.minWindow)
	execCtx := context.WithoutCancel(ctx)
	capture := interceptor.New(g.stream, snap.Classifier)

	finish := func(r result) {
		if r.err == nil {
			g.commit(snap, actor)
		}
		release()
		done <- r
	}

	err := g.scheduler.Run(func() {
		if actor.Name != "" {
			current, ok := g.directory.Lookup(actor.Name)
			if !ok {
				finish(result{stage: StateDispatched, err: ErrActorNotFound(actor.Name)})
				return
			}
			actor = current
		}

		session := capture.Attach(nil)
		if err := g.execute(execCtx, command); err != nil {
			session.Close()
			finish(result{stage: StateDispatched, err: ErrInternal(err)})
			return
		}

		err := g.scheduler.After(window, func() {
			output, failed := session.Close()
			if failed {
				finish(result{stage: StateAwaitingOutcome, output: output, err: ErrExecutionFailed(command, output)})
				return
			}
			finish(result{stage: StateVerdict})
		})
		if err != nil {
			session.Close()
			finish(result{stage: StateAwaitingOutcome, err: ErrInternal(err)})
		}
	})
	if err != nil {
		release()
		return result{stage: StateDispatched, err: ErrInternal(err)}
	}

	timer := time.NewTimer(window + g.grace)
	defer timer.Stop()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		return result{stage: StateAwaitingOutcome, err: ErrInternal(ctx.Err())}
	case <-g.scheduler.Stopped():
		select {
		case r := <-done:
			return r
		default:
		}
		// Queued tasks are dropped, so nothing else will release the slot.
		release()
		return result{stage: StateAwaitingOutcome, err: ErrInternal(oops.
			With("command", command).
			Errorf("scheduler stopped before the verdict"))}
	case <-timer.C:
		// The slot stays held until the tick context finishes the command.
		return result{stage: StateAwaitingOutcome, err: ErrInternal(oops.
			With("command", command).
			With("wait", window+g.grace).
			Errorf("no verdict from the tick context"))}
	}
}

func (g *Gateway) execute(ctx context.Context, command string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.With("command", command).Errorf("executor panic: %v", r)
		}
	}()
	return g.executor.Execute(ctx, command)
}

// commit reserves the cooldown for a successful command. Runs on the tick
// context.
func (g *Gateway) commit(snap *config.Snapshot, actor Actor) {
	if actor.Name != "" {
		if snap.ActorCooldown > 0 {
			g.cooldowns.Reserve(actor.ID, snap.ActorCooldown)
		}
		return
	}
	if snap.GlobalCooldown > 0 {
		g.cooldowns.ReserveGlobal(snap.GlobalCooldown)
	}
}

func (g *Gateway) finish(ctx context.Context, span trace.Span, v *Verdict) {
	code := v.Code()
	span.SetAttributes(
		attribute.String("gateway.stage", v.Stage.String()),
		attribute.String("gateway.final_command", v.FinalCommand),
	)
	if v.Err != nil {
		span.SetAttributes(attribute.String("gateway.code", code))
		span.RecordError(v.Err)
		span.SetStatus(codes.Error, v.Err.Error())
	}
	span.End()

	RecordVerdict(*v)
	if g.stats != nil {
		g.stats.Record(ctx, *v)
	}

	switch {
	case v.Err == nil:
		g.logger.InfoContext(ctx, "executed command",
			"request_id", v.RequestID.String(),
			"requester", v.Requester,
			"command", v.FinalCommand,
			"duration", v.Duration)
	case code == CodeInternalError:
		errutil.LogErrorContext(ctx, g.logger, "command request failed", v.Err)
	default:
		g.logger.InfoContext(ctx, "command request rejected",
			"request_id", v.RequestID.String(),
			"requester", v.Requester,
			"command", v.Command,
			"target", v.Target,
			"stage", v.Stage.String(),
			"code", code)
	}
}

// ResetCooldown clears the cooldown of the named online player.
func (g *Gateway) ResetCooldown(name string) error {
	actor, ok := g.directory.Lookup(strings.TrimSpace(name))
	if !ok {
		return ErrActorNotFound(name)
	}
	g.cooldowns.Reset(actor.ID)
	return nil
}

// ResetGlobalCooldown clears the global cooldown.
func (g *Gateway) ResetGlobalCooldown() {
	g.cooldowns.ResetGlobal()
}
