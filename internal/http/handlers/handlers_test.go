package handlers_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"render-orchestrator/internal/artifact"
	"render-orchestrator/internal/bridge"
	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/fallback"
	"render-orchestrator/internal/http/handlers"
	"render-orchestrator/internal/http/httpapi"
	"render-orchestrator/internal/infra"
	"render-orchestrator/internal/jobconfig"
	"render-orchestrator/internal/orchestrator"
)

type scriptedProcess struct {
	result domain.InvocationResult
}

func (s *scriptedProcess) Run(ctx context.Context, cfg jobconfig.JobConfig, timeout time.Duration) (domain.InvocationResult, error) {
	return s.result, nil
}

type testServer struct {
	srv   *httptest.Server
	store *artifact.Store
}

func newTestServer(t *testing.T, process orchestrator.ProcessInvoker) *testServer {
	t.Helper()
	logger := zerolog.New(io.Discard)
	store, err := artifact.NewStore(artifact.StoreOptions{RendersDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	orch, err := orchestrator.New(orchestrator.Options{
		Process:     process,
		Store:       store,
		Synthesizer: fallback.NewSynthesizer(nil, nil),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	br, err := bridge.New(bridge.Options{Generator: orch, Resolver: store})
	if err != nil {
		t.Fatalf("new bridge: %v", err)
	}
	app := handlers.NewApp(logger, orch, br, store)
	cfg := &infra.Config{RateLimitPerMin: 1000}
	srv := httptest.NewServer(httpapi.NewRouter(app, cfg))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store}
}

func successProcess(t *testing.T) *scriptedProcess {
	t.Helper()
	dir := t.TempDir()
	objPath := filepath.Join(dir, "scene.obj")
	if err := os.WriteFile(objPath, []byte("mesh data"), 0o644); err != nil {
		t.Fatalf("write obj: %v", err)
	}
	return &scriptedProcess{result: domain.InvocationResult{
		Kind:     domain.ResultSuccess,
		RawFiles: map[domain.OutputFormat]string{domain.FormatOBJ: objPath},
		Markers:  map[string]string{"SCENE_ID": "abc"},
	}}
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	return resp
}

func TestGenerateEndpoint(t *testing.T) {
	ts := newTestServer(t, successProcess(t))

	resp := postJSON(t, ts.srv.URL+"/v1/generate", map[string]any{
		"session_id": "web-1",
		"room":       map[string]float64{"width": 6, "length": 4, "height": 3},
		"tier":       "draft",
		"formats":    []string{"obj"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var decoded struct {
		Success  bool `json:"success"`
		Degraded bool `json:"degraded"`
		Result   struct {
			Files map[string]string `json:"files"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Success || decoded.Degraded {
		t.Fatalf("response = %+v, want non-degraded success", decoded)
	}
	url := decoded.Result.Files["obj"]
	if !strings.HasPrefix(url, "/renders/") || !strings.Contains(url, "?v=") {
		t.Fatalf("obj url = %q, want cache-busted /renders/ url", url)
	}
}

func TestGenerateEndpointDegradedStillSucceeds(t *testing.T) {
	ts := newTestServer(t, &scriptedProcess{result: domain.InvocationResult{Kind: domain.ResultTimeout}})

	resp := postJSON(t, ts.srv.URL+"/v1/generate", map[string]any{
		"room": map[string]float64{"width": 6, "length": 4, "height": 3},
		"tier": "high",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 even on invocation failure", resp.StatusCode)
	}
	var decoded struct {
		Success  bool `json:"success"`
		Degraded bool `json:"degraded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Success || !decoded.Degraded {
		t.Fatalf("response = %+v, want degraded success", decoded)
	}
}

func TestGenerateEndpointRejectsBadSpec(t *testing.T) {
	ts := newTestServer(t, successProcess(t))

	resp := postJSON(t, ts.srv.URL+"/v1/generate", map[string]any{
		"room": map[string]float64{"width": 0, "length": 4, "height": 3},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServeRenderDownload(t *testing.T) {
	ts := newTestServer(t, successProcess(t))

	resp := postJSON(t, ts.srv.URL+"/v1/generate", map[string]any{
		"session_id": "dl-1",
		"room":       map[string]float64{"width": 6, "length": 4, "height": 3},
		"tier":       "draft",
	})
	var decoded struct {
		Result struct {
			Files map[string]string `json:"files"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()

	dl, err := http.Get(ts.srv.URL + decoded.Result.Files["obj"])
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d, want 200", dl.StatusCode)
	}
	if ct := dl.Header.Get("Content-Type"); ct != "model/obj" {
		t.Fatalf("content type = %q, want model/obj", ct)
	}
	if cd := dl.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Fatalf("content disposition = %q, want attachment", cd)
	}
	data, _ := io.ReadAll(dl.Body)
	if string(data) != "mesh data" {
		t.Fatalf("downloaded %q, want staged content", data)
	}
}

func TestServeRenderNotFound(t *testing.T) {
	ts := newTestServer(t, successProcess(t))
	resp, err := http.Get(ts.srv.URL + "/renders/ghost.obj?v=1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSessionArchive(t *testing.T) {
	ts := newTestServer(t, successProcess(t))

	resp := postJSON(t, ts.srv.URL+"/v1/generate", map[string]any{
		"session_id": "arc-1",
		"room":       map[string]float64{"width": 6, "length": 4, "height": 3},
	})
	resp.Body.Close()

	ar, err := http.Get(ts.srv.URL + "/v1/sessions/arc-1/archive")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	defer ar.Body.Close()
	if ar.StatusCode != http.StatusOK {
		t.Fatalf("archive status = %d, want 200", ar.StatusCode)
	}
	data, err := io.ReadAll(ar.Body)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != 1 {
		t.Fatalf("zip has %d entries, want 1", len(zr.File))
	}
	if !strings.Contains(zr.File[0].Name, "-arc-1-") {
		t.Fatalf("zip entry %q not from session", zr.File[0].Name)
	}
}

func TestToolCallEndpoint(t *testing.T) {
	ts := newTestServer(t, successProcess(t))

	resp := postJSON(t, ts.srv.URL+"/v1/tools/call", map[string]any{
		"tool": "generate_3d_model",
		"arguments": map[string]any{
			"room": map[string]float64{"width": 5, "length": 5, "height": 3},
			"tier": "medium",
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var decoded struct {
		Success bool `json:"success"`
		Result  struct {
			Tool          string `json:"tool"`
			Simulated     bool   `json:"simulated"`
			GenerateModel *struct {
				ArtifactSet domain.ArtifactSet `json:"artifact_set"`
			} `json:"generate_model"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Success || decoded.Result.GenerateModel == nil {
		t.Fatalf("response = %+v", decoded)
	}
	if decoded.Result.Simulated {
		t.Fatalf("in-process dispatch marked simulated")
	}
}

func TestToolCallUnknownTool(t *testing.T) {
	ts := newTestServer(t, successProcess(t))

	resp := postJSON(t, ts.srv.URL+"/v1/tools/call", map[string]any{"tool": "fold_laundry"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var decoded struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Success || decoded.Error.Code != "unknown_tool" {
		t.Fatalf("response = %+v, want unknown_tool error", decoded)
	}
}

func TestListToolsEndpoint(t *testing.T) {
	ts := newTestServer(t, successProcess(t))

	resp, err := http.Get(ts.srv.URL + "/v1/tools")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var decoded struct {
		ProtocolVersion string `json:"protocol_version"`
		Tools           []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Tools) != 4 {
		t.Fatalf("tools = %d, want 4", len(decoded.Tools))
	}
	if decoded.ProtocolVersion == "" {
		t.Fatalf("missing protocol version")
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, successProcess(t))
	resp, err := http.Get(ts.srv.URL + "/v1/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
