package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/jobconfig"
	"render-orchestrator/internal/orchestrator"
)

// simDelayPerIteration scales the artificial response delay with the
// requested tier's iteration count, so simulated calls feel like the real
// system without ever approaching its latency.
const (
	simDelayPerIteration = 10 * time.Microsecond
	simMaxDelay          = 2 * time.Second
)

// Simulator is the in-process responder used when the live bridge transport
// is unreachable. Results are structurally valid but synthetic, and always
// tagged Simulated so callers and tests can tell the paths apart.
type Simulator struct {
	builder *jobconfig.Builder
}

// NewSimulator constructs a Simulator over a tier table.
func NewSimulator(builder *jobconfig.Builder) *Simulator {
	if builder == nil {
		builder = jobconfig.NewBuilder()
	}
	return &Simulator{builder: builder}
}

// Respond produces the synthetic result for one tool call, after a delay
// proportional to the requested quality. The delay honors context
// cancellation.
func (s *Simulator) Respond(ctx context.Context, name string, raw json.RawMessage) (ToolResult, error) {
	var args GenerateModelArgs
	if len(raw) > 0 {
		// Best-effort decode; render/extract args share the session_id
		// field and everything else has simulated defaults.
		_ = json.Unmarshal(raw, &args)
	}
	tier := domain.NormalizeTier(args.Tier)
	if err := s.delay(ctx, tier); err != nil {
		return ToolResult{}, err
	}

	switch name {
	case ToolGenerateModel:
		set := s.artifactSet(args, tier)
		return ToolResult{Tool: name, Simulated: true, GenerateModel: &GenerateModelResult{ArtifactSet: set}}, nil
	case ToolTrainNerf:
		set := s.artifactSet(args, tier)
		return ToolResult{Tool: name, Simulated: true, TrainNerf: &TrainNerfResult{
			SessionID:   set.SessionID,
			ArtifactSet: set,
			Status: orchestrator.SessionStatus{
				SessionID: set.SessionID,
				Stage:     orchestrator.StageCompleted,
				Progress:  1,
				Degraded:  true,
			},
		}}, nil
	case ToolRenderView:
		var view RenderViewArgs
		_ = json.Unmarshal(raw, &view)
		sessionID := orDefault(view.SessionID, uuid.NewString())
		return ToolResult{Tool: name, Simulated: true, RenderView: &RenderViewResult{
			SessionID: sessionID,
			ImageURL:  fmt.Sprintf("/renders/view-%s-%d.png?v=%d", sessionID, rand.Intn(1000), time.Now().UnixMilli()),
		}}, nil
	case ToolExtractMesh:
		var mesh ExtractMeshArgs
		_ = json.Unmarshal(raw, &mesh)
		sessionID := orDefault(mesh.SessionID, uuid.NewString())
		format := orDefault(strings.ToLower(mesh.Format), string(domain.FormatOBJ))
		return ToolResult{Tool: name, Simulated: true, ExtractMesh: &ExtractMeshResult{
			SessionID: sessionID,
			MeshURL:   fmt.Sprintf("/renders/scene-%s.%s?v=%d", sessionID, format, time.Now().UnixMilli()),
			Format:    format,
		}}, nil
	}
	return ToolResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownTool, name)
}

func (s *Simulator) artifactSet(args GenerateModelArgs, tier domain.QualityTier) domain.ArtifactSet {
	sessionID := orDefault(args.SessionID, uuid.NewString())
	version := time.Now().UnixMilli()
	formats := domain.NormalizeFormats(args.Formats)
	files := make(map[domain.OutputFormat]string, len(formats))
	for _, format := range formats {
		files[format] = fmt.Sprintf("/renders/scene-%s-%d.%s?v=%d", sessionID, version, format, version)
	}
	params := s.builder.Params(tier)
	return domain.ArtifactSet{
		SessionID: sessionID,
		SceneID:   "sim-" + sessionID,
		Files:     files,
		Degraded:  true,
		Meta: domain.ArtifactMeta{
			ProcessingSeconds: float64(params.Iterations) / 1000,
			Iterations:        params.Iterations,
			QualityScore:      0.8,
		},
	}
}

func (s *Simulator) delay(ctx context.Context, tier domain.QualityTier) error {
	d := time.Duration(s.builder.Params(tier).Iterations) * simDelayPerIteration
	if d > simMaxDelay {
		d = simMaxDelay
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
