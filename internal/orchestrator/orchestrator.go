package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"render-orchestrator/internal/artifact"
	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/fallback"
	"render-orchestrator/internal/infra"
	"render-orchestrator/internal/jobconfig"
)

// Stage names the orchestrator's state-machine positions, reported through
// status polling and transition logs.
type Stage string

const (
	StageCreated      Stage = "created"
	StageConfigBuilt  Stage = "config_built"
	StageInvoking     Stage = "invoking"
	StageStaging      Stage = "staging"
	StageSynthesizing Stage = "synthesizing"
	StageCompleted    Stage = "completed"
)

// ProcessInvoker runs the external renderer as a subprocess.
type ProcessInvoker interface {
	Run(ctx context.Context, cfg jobconfig.JobConfig, timeout time.Duration) (domain.InvocationResult, error)
}

// RemoteInvoker calls the external neural-reconstruction service.
type RemoteInvoker interface {
	Run(ctx context.Context, cfg jobconfig.JobConfig, images []domain.SourceImage) (domain.InvocationResult, error)
	Status(ctx context.Context, sessionID string) (json.RawMessage, error)
}

// Stager copies raw invocation output into the public staging area.
type Stager interface {
	Stage(result domain.InvocationResult, sessionID string, version int64) (artifact.StageResult, error)
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Builder        *jobconfig.Builder
	Process        ProcessInvoker
	Remote         RemoteInvoker
	Store          Stager
	Synthesizer    *fallback.Synthesizer
	ProcessTimeout time.Duration
	// MaxConcurrent caps in-flight external invocations across all
	// sessions. Zero or negative selects the default of 4.
	MaxConcurrent int64
	Logger        *infra.Logger
}

// Orchestrator sequences config build, invocation, staging, and fallback for
// one generation session at a time. It keeps no state across requests beyond
// the admission semaphore.
type Orchestrator struct {
	builder        *jobconfig.Builder
	process        ProcessInvoker
	remote         RemoteInvoker
	store          Stager
	synth          *fallback.Synthesizer
	processTimeout time.Duration
	slots          *semaphore.Weighted
	logger         *infra.Logger
}

// SessionStatus answers a polling query.
type SessionStatus struct {
	SessionID string          `json:"session_id"`
	Stage     Stage           `json:"stage"`
	Progress  float64         `json:"progress"`
	Degraded  bool            `json:"degraded"`
	Remote    json.RawMessage `json:"remote,omitempty"`
}

// New constructs an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator: artifact store is required")
	}
	builder := opts.Builder
	if builder == nil {
		builder = jobconfig.NewBuilder()
	}
	synth := opts.Synthesizer
	if synth == nil {
		synth = fallback.NewSynthesizer(builder, nil)
	}
	timeout := opts.ProcessTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Orchestrator{
		builder:        builder,
		process:        opts.Process,
		remote:         opts.Remote,
		store:          opts.Store,
		synth:          synth,
		processTimeout: timeout,
		slots:          semaphore.NewWeighted(maxConcurrent),
		logger:         logger,
	}, nil
}

// Generate runs the full pipeline for one session. Once the session spec is
// valid the caller always receives a well-formed ArtifactSet: every
// invocation failure routes through the synthesizer and is reported as a
// degraded success, never a hard error.
func (o *Orchestrator) Generate(ctx context.Context, session *domain.GenerationSession) (domain.ArtifactSet, error) {
	if err := validateSession(session); err != nil {
		return domain.ArtifactSet{}, err
	}

	// Admission control: external renderer and ML capacity is finite even
	// though each request runs on its own goroutine.
	if err := o.slots.Acquire(ctx, 1); err != nil {
		return domain.ArtifactSet{}, fmt.Errorf("orchestrator: acquire slot: %w", err)
	}
	defer o.slots.Release(1)

	log := o.logger.With().Str("session_id", session.ID).Str("tier", string(session.Tier)).Logger()
	log.Info().Str("stage", string(StageCreated)).Msg("orchestrator: session accepted")

	cfg := o.builder.Build(session)
	log.Debug().Str("stage", string(StageConfigBuilt)).Int("iterations", cfg.Iterations).Msg("orchestrator: config built")

	started := time.Now()
	result := o.invoke(ctx, cfg, session, &log)
	elapsed := time.Since(started)

	if !result.OK() {
		log.Warn().
			Str("stage", string(StageSynthesizing)).
			Str("result_kind", string(result.Kind)).
			Msg("orchestrator: invocation failed, synthesizing fallback")
		return o.synth.Synthesize(session), nil
	}

	log.Debug().Str("stage", string(StageStaging)).Int("raw_files", len(result.RawFiles)).Msg("orchestrator: staging artifacts")
	staged, err := o.store.Stage(result, session.ID, session.Version())
	if err != nil {
		log.Error().Err(err).Msg("orchestrator: staging failed, synthesizing fallback")
		return o.synth.Synthesize(session), nil
	}
	if len(staged.Files) == 0 {
		// The primary deliverable gates success classification; with no
		// geometry staged the result is not authoritative.
		log.Warn().Msg("orchestrator: no primary files staged, synthesizing fallback")
		return o.synth.Synthesize(session), nil
	}

	set := domain.ArtifactSet{
		SessionID:    session.ID,
		SceneID:      result.Markers["SCENE_ID"],
		Files:        staged.Files,
		AuxFiles:     staged.AuxURLs,
		MissingFiles: staged.Missing,
		Degraded:     false,
		Meta: domain.ArtifactMeta{
			ProcessingSeconds: elapsed.Seconds(),
			Iterations:        cfg.Iterations,
			QualityScore:      realQualityScore(session.Tier),
		},
	}
	log.Info().
		Str("stage", string(StageCompleted)).
		Int("files", len(set.Files)).
		Int("missing", len(staged.Missing)).
		Dur("elapsed", elapsed).
		Msg("orchestrator: session completed")
	return set, nil
}

// invoke chooses the invoker once per session: the remote reconstruction
// pipeline when it is configured and the session carries photographs, the
// subprocess renderer otherwise. The choice is not retried with the other
// invoker.
func (o *Orchestrator) invoke(ctx context.Context, cfg jobconfig.JobConfig, session *domain.GenerationSession, log *infra.Logger) domain.InvocationResult {
	log.Info().Str("stage", string(StageInvoking)).Bool("remote", o.useRemote(session)).Msg("orchestrator: invoking")
	if o.useRemote(session) {
		result, err := o.remote.Run(ctx, cfg, session.SourceImages)
		if err != nil {
			return domain.InvocationResult{Kind: domain.ResultRemoteFailure, Body: err.Error()}
		}
		return result
	}
	if o.process == nil {
		return domain.InvocationResult{
			Kind:       domain.ResultProcessFailure,
			StderrTail: "no renderer binary configured",
		}
	}
	result, err := o.process.Run(ctx, cfg, o.processTimeout)
	if err != nil {
		return domain.InvocationResult{Kind: domain.ResultProcessFailure, StderrTail: err.Error()}
	}
	return result
}

func (o *Orchestrator) useRemote(session *domain.GenerationSession) bool {
	return o.remote != nil && session.HasSourceImages()
}

// Status answers a polling query. The orchestrator runs sessions
// synchronously and keeps no job table, so remote-backed polling proxies the
// ML service's own status endpoint; for everything else a live session id is
// by definition already completed.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (SessionStatus, error) {
	if sessionID == "" {
		return SessionStatus{}, fmt.Errorf("%w: session id required", domain.ErrInvalidSpec)
	}
	status := SessionStatus{SessionID: sessionID, Stage: StageCompleted, Progress: 1}
	if o.remote != nil {
		remote, err := o.remote.Status(ctx, sessionID)
		if err == nil {
			status.Remote = remote
			return status, nil
		}
		if errors.Is(err, domain.ErrNotFound) {
			return SessionStatus{}, err
		}
		o.logger.Warn().Err(err).Str("session_id", sessionID).Msg("orchestrator: remote status unavailable")
	}
	return status, nil
}

func validateSession(session *domain.GenerationSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("%w: session id required", domain.ErrInvalidSpec)
	}
	if !session.HasSourceImages() {
		r := session.Room
		if r.Width <= 0 || r.Length <= 0 || r.Height <= 0 {
			return fmt.Errorf("%w: room dimensions must be positive", domain.ErrInvalidSpec)
		}
	}
	return nil
}

// realQualityScore reports confidence for authoritative results; higher
// tiers earn a slightly higher score.
func realQualityScore(tier domain.QualityTier) float64 {
	return 0.92 + 0.02*float64(tier.Rank())
}
