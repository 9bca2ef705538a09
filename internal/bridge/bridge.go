package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/infra"
	"render-orchestrator/internal/jobconfig"
	"render-orchestrator/internal/orchestrator"
)

// Generator is the orchestrator surface the bridge dispatches real tool
// calls to.
type Generator interface {
	Generate(ctx context.Context, session *domain.GenerationSession) (domain.ArtifactSet, error)
	Status(ctx context.Context, sessionID string) (orchestrator.SessionStatus, error)
}

// Resolver locates an artifact file for extract_mesh.
type Resolver interface {
	Resolve(logicalName string) (string, error)
}

// Session is the explicit protocol-session object passed through every
// bridge call. It replaces module-level handshake state: a new call with no
// live session re-negotiates.
type Session struct {
	ID              string   `json:"id"`
	ProtocolVersion string   `json:"protocol_version"`
	Capabilities    []string `json:"capabilities"`
	Simulated       bool     `json:"simulated"`

	tools []ToolDescriptor
}

// Options configures the bridge.
type Options struct {
	// HandshakeURL is the live bridge transport's capability endpoint.
	// Empty means no external transport is deployed and calls dispatch
	// in-process against the orchestrator.
	HandshakeURL string
	HTTPClient   *http.Client
	Generator    Generator
	Resolver     Resolver
	Builder      *jobconfig.Builder
	Logger       *infra.Logger
}

// Bridge exposes the orchestrator's operations as named tool calls behind a
// capability handshake, so heterogeneous callers can invoke generation
// without knowing the orchestrator's native interface. When the live
// transport is unreachable it falls back to the in-process simulator so UI
// development is never blocked on external availability.
type Bridge struct {
	handshakeURL string
	httpClient   *http.Client
	generator    Generator
	resolver     Resolver
	sim          *Simulator

	mu      sync.Mutex
	session *Session

	logger *infra.Logger
}

// New constructs a Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Generator == nil {
		return nil, errors.New("bridge: generator is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	builder := opts.Builder
	if builder == nil {
		builder = jobconfig.NewBuilder()
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Bridge{
		handshakeURL: strings.TrimSpace(opts.HandshakeURL),
		httpClient:   httpClient,
		generator:    opts.Generator,
		resolver:     opts.Resolver,
		sim:          NewSimulator(builder),
		logger:       logger,
	}, nil
}

// Initialize performs the versioned capability handshake and caches the tool
// catalog. It is idempotent: calling it with a live session is a no-op
// returning true. It always succeeds — an unreachable transport yields a
// simulated session rather than a failure.
func (b *Bridge) Initialize(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return true
	}
	b.session = b.negotiate(ctx)
	return true
}

// CurrentSession returns the live protocol session, negotiating one first if
// needed.
func (b *Bridge) CurrentSession(ctx context.Context) *Session {
	b.Initialize(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

func (b *Bridge) negotiate(ctx context.Context) *Session {
	session := &Session{
		ID:              uuid.NewString(),
		ProtocolVersion: ProtocolVersion,
		Capabilities:    []string{"tools"},
		tools:           Catalog(),
	}
	if b.handshakeURL == "" {
		// No external transport deployed; the orchestrator itself is the
		// bridge's backend and calls dispatch in-process.
		b.logger.Info().Msg("bridge: no transport configured, dispatching in-process")
		return session
	}
	payload, _ := json.Marshal(map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.handshakeURL, strings.NewReader(string(payload)))
	if err != nil {
		session.Simulated = true
		return session
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.Warn().Err(err).Msg("bridge: transport unreachable, falling back to simulator")
		session.Simulated = true
		return session
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.Warn().Int("status", resp.StatusCode).Msg("bridge: handshake rejected, falling back to simulator")
		session.Simulated = true
		return session
	}
	var negotiated struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&negotiated); err == nil && negotiated.ProtocolVersion != "" {
		session.ProtocolVersion = negotiated.ProtocolVersion
	}
	b.logger.Info().Str("protocol_version", session.ProtocolVersion).Msg("bridge: handshake complete")
	return session
}

// ListTools returns the cached tool catalog, negotiating a session first if
// needed.
func (b *Bridge) ListTools(ctx context.Context) []ToolDescriptor {
	return b.CurrentSession(ctx).tools
}

// CallTool dispatches a named tool call. Unknown names return
// domain.ErrUnknownTool; on a simulated session, tool calls route to the
// in-process responder and the result carries Simulated=true.
func (b *Bridge) CallTool(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	session := b.CurrentSession(ctx)
	switch name {
	case ToolGenerateModel, ToolTrainNerf, ToolRenderView, ToolExtractMesh:
	default:
		return ToolResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownTool, name)
	}
	if session.Simulated {
		return b.sim.Respond(ctx, name, args)
	}
	switch name {
	case ToolGenerateModel:
		return b.generateModel(ctx, args, false)
	case ToolTrainNerf:
		return b.generateModel(ctx, args, true)
	case ToolRenderView:
		// Novel-view rendering needs a live scene inside the external
		// tool; the transport only negotiates capabilities, so this is
		// served by the simulator until the renderer grows a view RPC.
		return b.sim.Respond(ctx, name, args)
	case ToolExtractMesh:
		return b.extractMesh(ctx, args)
	}
	return ToolResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownTool, name)
}

func (b *Bridge) generateModel(ctx context.Context, raw json.RawMessage, nerf bool) (ToolResult, error) {
	var args GenerateModelArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return ToolResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidSpec, err)
		}
	}
	session := SessionFromArgs(args)
	set, err := b.generator.Generate(ctx, session)
	if err != nil {
		return ToolResult{}, err
	}
	if nerf {
		status, statusErr := b.generator.Status(ctx, session.ID)
		if statusErr != nil {
			status = orchestrator.SessionStatus{SessionID: session.ID, Stage: orchestrator.StageCompleted, Progress: 1}
		}
		return ToolResult{
			Tool:      ToolTrainNerf,
			TrainNerf: &TrainNerfResult{SessionID: session.ID, ArtifactSet: set, Status: status},
		}, nil
	}
	return ToolResult{
		Tool:          ToolGenerateModel,
		GenerateModel: &GenerateModelResult{ArtifactSet: set},
	}, nil
}

func (b *Bridge) extractMesh(ctx context.Context, raw json.RawMessage) (ToolResult, error) {
	var args ExtractMeshArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return ToolResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidSpec, err)
	}
	if args.FileName == "" {
		return ToolResult{}, fmt.Errorf("%w: file_name required", domain.ErrInvalidSpec)
	}
	if b.resolver == nil {
		return b.sim.Respond(ctx, ToolExtractMesh, raw)
	}
	if _, err := b.resolver.Resolve(args.FileName); err != nil {
		return ToolResult{}, err
	}
	format := args.Format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(extOf(args.FileName)), ".")
	}
	return ToolResult{
		Tool: ToolExtractMesh,
		ExtractMesh: &ExtractMeshResult{
			SessionID: args.SessionID,
			MeshURL:   fmt.Sprintf("/renders/%s?v=%d", args.FileName, time.Now().UnixMilli()),
			Format:    format,
		},
	}, nil
}

// SessionFromArgs normalizes tool-call arguments into a generation session.
// A missing session id is server-generated.
func SessionFromArgs(args GenerateModelArgs) *domain.GenerationSession {
	id := strings.TrimSpace(args.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	return &domain.GenerationSession{
		ID:          id,
		Room:        args.Room,
		Tier:        domain.NormalizeTier(args.Tier),
		Formats:     domain.NormalizeFormats(args.Formats),
		CameraCount: args.CameraCount,
		CreatedAt:   time.Now(),
	}
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}
