// Package conductor wires every component into one running system: the
// AgentRegistry, EventBus, Router, TurnRunner, ToolDispatcher with its
// built-in tools, Supervisor, PhaseMachine, ReflectionSystem, TeamFormation,
// ExecutionLogger, ConfigService, and the maintenance scheduler.
//
// Grounded on the teacher's cmd/nexus/main.go / internal/gateway/server.go
// wiring shape: one explicit Runtime struct assembled in New, no package-level
// singletons (SPEC_FULL.md's DESIGN NOTE calls this out explicitly), Start
// begins the event loop and the maintenance scheduler, Stop tears both down.
package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nostrswarm/conductor/internal/config"
	"github.com/nostrswarm/conductor/internal/convo"
	"github.com/nostrswarm/conductor/internal/coreerr"
	"github.com/nostrswarm/conductor/internal/eventbus"
	"github.com/nostrswarm/conductor/internal/execlog"
	"github.com/nostrswarm/conductor/internal/maintenance"
	"github.com/nostrswarm/conductor/internal/phase"
	"github.com/nostrswarm/conductor/internal/registry"
	"github.com/nostrswarm/conductor/internal/reflection"
	"github.com/nostrswarm/conductor/internal/router"
	"github.com/nostrswarm/conductor/internal/supervisor"
	"github.com/nostrswarm/conductor/internal/teamformation"
	"github.com/nostrswarm/conductor/internal/tooldispatch"
	"github.com/nostrswarm/conductor/internal/tooldispatch/builtin"
	"github.com/nostrswarm/conductor/internal/turn"
	"github.com/nostrswarm/conductor/pkg/nostrcore"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a Runtime.
type Options struct {
	ProjectPath string
	Profile     string
	Relays      []string
	Logger      *slog.Logger

	// Registerer collects execlog's metrics. Defaults to a fresh
	// prometheus.Registry per Runtime so constructing more than one Runtime
	// in the same process (as tests do) never panics on duplicate
	// registration; pass prometheus.DefaultRegisterer explicitly to expose
	// metrics on the process-wide /metrics handler.
	Registerer prometheus.Registerer
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Registerer == nil {
		o.Registerer = prometheus.NewRegistry()
	}
}

// Runtime is the fully wired system. Every field is a concrete component, not
// a singleton accessor — assembled once by New and held for the process
// lifetime, per SPEC_FULL.md's DESIGN NOTE on avoiding package-level state.
type Runtime struct {
	Config        *config.Service
	Identities    *registry.SQLiteIdentityStore
	Registry      *registry.Registry
	Bus           eventbus.Bus
	Conversations *convo.Store
	PhaseMachine  *phase.Machine
	Dispatcher    *tooldispatch.Dispatcher
	Reflection    *reflection.System
	Supervisor    *supervisor.Supervisor
	TeamFormer    *teamformation.TeamFormation
	TurnRunner    *turn.Runner
	Router        *router.Router
	ExecLog       *execlog.Logger
	Maintenance   *maintenance.Scheduler

	logger *slog.Logger
}

// lazyPublisher breaks the Registry<->EventBus construction cycle: Registry
// needs a Publisher at construction time, but NostrBus needs Registry as its
// SignerResolver and does not exist yet. bus is assigned once, immediately
// after eventbus.New returns, before either is used.
type lazyPublisher struct {
	bus eventbus.Bus
}

func (p *lazyPublisher) PublishProfile(ctx context.Context, agent *nostrcore.Agent) error {
	return p.bus.PublishProfile(ctx, agent)
}

// lazyRouterCloser breaks the Maintenance<->Router construction cycle:
// Maintenance needs a RouterCloser at construction time (so its cron.Cron
// exists early enough for Supervisor to register onto), but Router is built
// later, after Supervisor/PhaseMachine/Dispatcher. router is assigned once,
// immediately after router.New returns.
type lazyRouterCloser struct {
	router *router.Router
}

func (l *lazyRouterCloser) Close(conversationID string) {
	if l.router != nil {
		l.router.Close(conversationID)
	}
}

// busStatusReporter satisfies router.StatusReporter by publishing a
// KindStatus event under the orchestrator's identity (spec.md §4.4: "reported
// as an outbound status event on the conversation").
type busStatusReporter struct {
	bus          eventbus.Bus
	orchestrator func() (*nostrcore.Agent, bool)
	logger       *slog.Logger
}

func (r *busStatusReporter) ReportStatus(ctx context.Context, conversationID, message string) {
	agent, ok := r.orchestrator()
	if !ok {
		r.logger.Warn("cannot report status, no orchestrator registered", "conversation", conversationID, "message", message)
		return
	}
	tags := nostrcore.Tags{{"e", conversationID}}
	if _, err := r.bus.Publish(ctx, agent.PubKey, eventbus.KindStatus, message, tags); err != nil {
		r.logger.Warn("failed to publish status", "conversation", conversationID, "error", err)
	}
}

// New assembles every component per SPEC_FULL.md §4 but does not start the
// event loop or maintenance scheduler; call Start for that.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	opts.setDefaults()
	logger := opts.Logger.With("component", "conductor")

	cfgSvc, err := config.Load(ctx, opts.ProjectPath, opts.Profile, logger)
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(opts.ProjectPath, ".conductor")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create state dir: %s", coreerr.ErrConfig, err)
	}
	identities, err := registry.OpenSQLiteIdentityStore(filepath.Join(stateDir, "identities.db"))
	if err != nil {
		return nil, fmt.Errorf("%w: open identity store: %s", coreerr.ErrConfig, err)
	}

	pub := &lazyPublisher{}
	reg := registry.New(identities, pub)

	relays := opts.Relays
	if len(relays) == 0 {
		relays = cfgSvc.Profile().DefaultRelays
	}
	whitelist := eventbus.NewWhitelist(cfgSvc.Project().Whitelist)
	bus := eventbus.New(eventbus.Config{Relays: relays, Logger: logger}, whitelist, reg)
	pub.bus = bus

	if err := reg.Bootstrap(ctx, cfgSvc.ProjectAgentDefs()); err != nil {
		return nil, fmt.Errorf("bootstrap agent registry: %w", err)
	}

	conversations := convo.New()

	execLogger := execlog.New(logger, opts.Registerer)

	lazyRC := &lazyRouterCloser{}
	maint := maintenance.New(conversations, lazyRC, logger)

	sv := supervisor.New(bus, maint.Cron(), logger)
	phaseMachine := phase.New(sv, execLogger)

	dispatcher := tooldispatch.New(conversations)
	builtin.RegisterAll(dispatcher, builtin.Deps{
		Bus:           bus,
		Conversations: conversations,
		Phases:        phaseMachine,
		Milestones:    sv,
		Tasks:         sv,
	})

	reflectionSystem := reflection.New(bus, logger)
	dispatcher.OnInvoke(reflectionSystem.Hook())

	orchestratorPreset, _ := cfgSvc.ResolvePreset("orchestrator")
	teamFormer := teamformation.New(reg, orchestratorPreset.Provider, orchestratorPreset.Model, execLogger)

	turnRunner := turn.New(dispatcher, bus, conversations, cfgSvc, turn.Config{Logger: logger})

	status := &busStatusReporter{bus: bus, orchestrator: reg.Orchestrator, logger: logger}
	r := router.New(reg, conversations, teamFormer, turnRunner, status)
	lazyRC.router = r

	return &Runtime{
		Config:        cfgSvc,
		Identities:    identities,
		Registry:      reg,
		Bus:           bus,
		Conversations: conversations,
		PhaseMachine:  phaseMachine,
		Dispatcher:    dispatcher,
		Reflection:    reflectionSystem,
		Supervisor:    sv,
		TeamFormer:    teamFormer,
		TurnRunner:    turnRunner,
		Router:        r,
		ExecLog:       execLogger,
		Maintenance:   maint,
		logger:        logger,
	}, nil
}

// Start republishes every agent's profile, starts the bus (delivering events
// to Router), watches agents/ for changes, and starts the maintenance
// scheduler. Blocks only as long as each step takes; the event loop itself
// runs on the bus's own goroutines.
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.Registry.RepublishProfiles(ctx); err != nil {
		return fmt.Errorf("republish agent profiles: %w", err)
	}
	if err := rt.Bus.Start(ctx, rt.Router); err != nil {
		return err
	}
	if err := rt.Config.Watch(ctx, rt.Registry); err != nil {
		return err
	}
	if err := rt.Maintenance.Start(); err != nil {
		return err
	}
	rt.logger.Info("conductor runtime started")
	return nil
}

// Stop tears down the bus, the maintenance scheduler, the config watcher, and
// the identity store, in roughly the reverse order of Start.
func (rt *Runtime) Stop(ctx context.Context) error {
	if err := rt.Maintenance.Stop(ctx); err != nil {
		rt.logger.Warn("maintenance scheduler stop error", "error", err)
	}
	if err := rt.Config.Close(); err != nil {
		rt.logger.Warn("config watcher close error", "error", err)
	}
	if err := rt.Bus.Stop(ctx); err != nil {
		rt.logger.Warn("event bus stop error", "error", err)
	}
	if err := rt.Identities.Close(); err != nil {
		rt.logger.Warn("identity store close error", "error", err)
	}
	rt.logger.Info("conductor runtime stopped")
	return nil
}
