package server

import (
	"context"
	"time"

	"github.com/angelstreet/virtualpytest-sub002/internal/aicache"
	"github.com/angelstreet/virtualpytest-sub002/internal/host"
	"github.com/angelstreet/virtualpytest-sub002/internal/logger"
	"github.com/angelstreet/virtualpytest-sub002/internal/model"
	"github.com/angelstreet/virtualpytest-sub002/internal/persistence"
	"github.com/angelstreet/virtualpytest-sub002/internal/resilience"
	"github.com/angelstreet/virtualpytest-sub002/internal/telemetry"
)

// Server is the stateless API process's component set.
type Server struct {
	Store    persistence.Store
	Cache    *aicache.Cache
	Registry *HostRegistry
	Proxy    *Proxy

	// Locks is the team-wide execution lock held across a multi-device
	// script fan-out (spec.md §4.5 "Backpressure"). DeviceLocks is the
	// separate, per-device busy tracker used everywhere else a single
	// device runs a single graph at a time (spec.md §5): a testcase
	// execution on device A must never 409 a concurrent one on device B
	// in the same team.
	Locks       *ExecLocks
	DeviceLocks *ExecLocks

	// Tasks reuses the Host's own async task bookkeeping primitive: the
	// Server needs the identical "start in a goroutine, grow a step log,
	// poll a snapshot" shape for its own client-facing aiagent/script
	// endpoints, just driven by polling a Host instead of by the executor
	// directly.
	Tasks *host.TaskManager

	PollInterval time.Duration

	// PlanGen and Analyzer are the narrow seams to the out-of-scope AI
	// provider (spec.md §1: "OCR/Whisper/vision model calls" and the AI
	// generation behind them are external collaborators). Both are nil by
	// default; handlers degrade to a clear GenerationUnavailable error
	// rather than fabricating a call to a real provider.
	PlanGen  PlanGenerator
	Analyzer TestcaseAnalyzer

	Log logger.Logger
	Tel *telemetry.Telemetry
}

// PlanGenerator produces a fresh execution graph for a prompt when the AI
// plan cache has no reusable candidate (spec.md §4.3: a miss "will
// generate"). The generation call itself belongs to the external AI
// provider this module never implements.
type PlanGenerator interface {
	Generate(ctx context.Context, prompt string, execCtx aicache.ExecutionContext) (graph map[string]interface{}, intent, target string, err error)
}

// TestcaseAnalyzer backs the AI testcase pipeline's analyze/generate steps
// (spec.md §6.1 "AI testcase pipeline"), another seam onto the external AI
// provider.
type TestcaseAnalyzer interface {
	Analyze(ctx context.Context, prompt string) (*AnalysisResult, error)
	Generate(ctx context.Context, analysisID string, confirmedUIs []string) ([]*model.Testcase, error)
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithPlanGenerator wires an AI plan generator for aiagent cache misses.
func WithPlanGenerator(g PlanGenerator) Option { return func(s *Server) { s.PlanGen = g } }

// WithTestcaseAnalyzer wires the AI testcase analyze/generate pipeline.
func WithTestcaseAnalyzer(a TestcaseAnalyzer) Option { return func(s *Server) { s.Analyzer = a } }

// New builds a Server wired to its sub-components.
func New(store persistence.Store, cache *aicache.Cache, heartbeatWindow time.Duration, missedHeartbeats int, proxyTimeout time.Duration, cbConfig resilience.CircuitBreakerConfig, pollInterval time.Duration, log logger.Logger, tel *telemetry.Telemetry, opts ...Option) *Server {
	if log == nil {
		log = logger.Noop()
	}
	s := &Server{
		Store:        store,
		Cache:        cache,
		Registry:     NewHostRegistry(heartbeatWindow, missedHeartbeats, log),
		Proxy:        NewProxy(proxyTimeout, cbConfig),
		Locks:        NewExecLocks(),
		DeviceLocks:  NewExecLocks(),
		Tasks:        host.NewTaskManager(),
		PollInterval: pollInterval,
		Log:          log,
		Tel:          tel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
