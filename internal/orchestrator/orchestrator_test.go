package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"render-orchestrator/internal/artifact"
	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/fallback"
	"render-orchestrator/internal/jobconfig"
)

type fakeProcess struct {
	result domain.InvocationResult
	err    error
	calls  int
}

func (f *fakeProcess) Run(ctx context.Context, cfg jobconfig.JobConfig, timeout time.Duration) (domain.InvocationResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeRemote struct {
	result domain.InvocationResult
	status json.RawMessage
	err    error
	calls  int
}

func (f *fakeRemote) Run(ctx context.Context, cfg jobconfig.JobConfig, images []domain.SourceImage) (domain.InvocationResult, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeRemote) Status(ctx context.Context, sessionID string) (json.RawMessage, error) {
	if f.status == nil {
		return nil, domain.ErrNotFound
	}
	return f.status, nil
}

func newTestOrchestrator(t *testing.T, process ProcessInvoker, remote RemoteInvoker) (*Orchestrator, *artifact.Store) {
	t.Helper()
	store, err := artifact.NewStore(artifact.StoreOptions{RendersDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	orch, err := New(Options{
		Process:     process,
		Remote:      remote,
		Store:       store,
		Synthesizer: fallback.NewSynthesizer(nil, nil),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, store
}

func specSession(tier domain.QualityTier) *domain.GenerationSession {
	return &domain.GenerationSession{
		ID:        "sess-1",
		Room:      domain.RoomSpec{Width: 6, Length: 4, Height: 3},
		Tier:      tier,
		Formats:   []domain.OutputFormat{domain.FormatOBJ},
		CreatedAt: time.Now(),
	}
}

func photoSession(tier domain.QualityTier) *domain.GenerationSession {
	s := specSession(tier)
	s.SourceImages = []domain.SourceImage{{Filename: "a.jpg", MIME: "image/jpeg", Data: []byte{1}}}
	return s
}

func successFrom(t *testing.T, dir string) domain.InvocationResult {
	t.Helper()
	objPath := filepath.Join(dir, "scene.obj")
	if err := os.WriteFile(objPath, []byte("mesh"), 0o644); err != nil {
		t.Fatalf("write obj: %v", err)
	}
	return domain.InvocationResult{
		Kind:     domain.ResultSuccess,
		RawFiles: map[domain.OutputFormat]string{domain.FormatOBJ: objPath},
		Markers:  map[string]string{"SCENE_ID": "abc"},
	}
}

func TestGenerateProcessPath(t *testing.T) {
	process := &fakeProcess{result: successFrom(t, t.TempDir())}
	remote := &fakeRemote{}
	orch, _ := newTestOrchestrator(t, process, remote)

	set, err := orch.Generate(context.Background(), specSession(domain.TierDraft))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if process.calls != 1 || remote.calls != 0 {
		t.Fatalf("calls process=%d remote=%d, want process path only", process.calls, remote.calls)
	}
	if set.Degraded {
		t.Fatalf("result degraded, want authoritative")
	}
	if set.SceneID != "abc" {
		t.Fatalf("scene id = %q, want abc", set.SceneID)
	}
	url := set.Files[domain.FormatOBJ]
	if !strings.HasPrefix(url, "/renders/") || !strings.Contains(url, ".obj?v=") {
		t.Fatalf("url = %q, want cache-busted /renders/ obj url", url)
	}
}

func TestGenerateRemotePathWhenImagesPresent(t *testing.T) {
	process := &fakeProcess{result: successFrom(t, t.TempDir())}
	remote := &fakeRemote{result: successFrom(t, t.TempDir())}
	orch, _ := newTestOrchestrator(t, process, remote)

	if _, err := orch.Generate(context.Background(), photoSession(domain.TierUltra)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if remote.calls != 1 || process.calls != 0 {
		t.Fatalf("calls process=%d remote=%d, want remote path only", process.calls, remote.calls)
	}
}

func TestGenerateNeverReturnsHardErrorOnFailures(t *testing.T) {
	failures := []domain.InvocationResult{
		{Kind: domain.ResultTimeout},
		{Kind: domain.ResultProcessFailure, ExitCode: 1, StderrTail: "boom"},
		{Kind: domain.ResultMalformedOutput, Reason: "no markers"},
	}
	for _, failure := range failures {
		t.Run(string(failure.Kind), func(t *testing.T) {
			orch, _ := newTestOrchestrator(t, &fakeProcess{result: failure}, nil)
			set, err := orch.Generate(context.Background(), specSession(domain.TierMedium))
			if err != nil {
				t.Fatalf("generate returned hard error: %v", err)
			}
			if !set.Degraded {
				t.Fatalf("result not degraded after %s", failure.Kind)
			}
		})
	}
}

func TestGenerateRemoteFailureSynthesizesDegraded(t *testing.T) {
	remote := &fakeRemote{result: domain.InvocationResult{Kind: domain.ResultRemoteFailure, HTTPStatus: 500}}
	orch, _ := newTestOrchestrator(t, nil, remote)

	set, err := orch.Generate(context.Background(), photoSession(domain.TierUltra))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !set.Degraded {
		t.Fatalf("result not degraded after remote failure")
	}
	if set.Meta.QualityScore < fallback.MinQualityScore || set.Meta.QualityScore > fallback.MaxQualityScore {
		t.Fatalf("quality score %f outside synthesized bound", set.Meta.QualityScore)
	}
	// The choice is made once; the process invoker is never consulted.
	if remote.calls != 1 {
		t.Fatalf("remote calls = %d, want 1", remote.calls)
	}
}

func TestGenerateMissingAuxDoesNotDegrade(t *testing.T) {
	dir := t.TempDir()
	result := successFrom(t, dir)
	result.AuxFiles = []string{filepath.Join(dir, "view-that-was-never-rendered.png")}
	orch, _ := newTestOrchestrator(t, &fakeProcess{result: result}, nil)

	set, err := orch.Generate(context.Background(), specSession(domain.TierHigh))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if set.Degraded {
		t.Fatalf("missing aux render degraded the result")
	}
	if len(set.MissingFiles) != 1 {
		t.Fatalf("missing files = %v, want the skipped render", set.MissingFiles)
	}
}

func TestGenerateAllRawFilesMissingSynthesizes(t *testing.T) {
	result := domain.InvocationResult{
		Kind:     domain.ResultSuccess,
		RawFiles: map[domain.OutputFormat]string{domain.FormatOBJ: "/nonexistent/scene.obj"},
	}
	orch, _ := newTestOrchestrator(t, &fakeProcess{result: result}, nil)

	set, err := orch.Generate(context.Background(), specSession(domain.TierHigh))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !set.Degraded {
		t.Fatalf("result not degraded with no staged geometry")
	}
}

func TestGenerateRejectsInvalidSpec(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeProcess{}, nil)

	tests := []*domain.GenerationSession{
		nil,
		{ID: "", Room: domain.RoomSpec{Width: 1, Length: 1, Height: 1}},
		{ID: "s", Room: domain.RoomSpec{Width: 0, Length: 1, Height: 1}},
	}
	for _, session := range tests {
		if _, err := orch.Generate(context.Background(), session); !errors.Is(err, domain.ErrInvalidSpec) {
			t.Fatalf("session %+v: err = %v, want ErrInvalidSpec", session, err)
		}
	}
}

func TestStatusProxiesRemote(t *testing.T) {
	remote := &fakeRemote{status: json.RawMessage(`{"stage":"training","progress":0.5}`)}
	orch, _ := newTestOrchestrator(t, nil, remote)

	status, err := orch.Status(context.Background(), "sess-9")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Remote == nil {
		t.Fatalf("expected proxied remote status")
	}
}

func TestStatusNotFoundFromRemote(t *testing.T) {
	orch, _ := newTestOrchestrator(t, nil, &fakeRemote{})
	if _, err := orch.Status(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStatusWithoutRemoteReportsCompleted(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &fakeProcess{}, nil)
	status, err := orch.Status(context.Background(), "sess-2")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Stage != StageCompleted || status.Progress != 1 {
		t.Fatalf("status = %+v, want completed", status)
	}
}
