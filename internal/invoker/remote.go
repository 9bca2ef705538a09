package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/infra"
	"render-orchestrator/internal/jobconfig"
)

// ErrMissingBaseURL indicates the remote invoker was configured without an
// ML service endpoint.
var ErrMissingBaseURL = errors.New("invoker: ml service base url is required")

// RemoteOptions configures the ML-service invoker.
type RemoteOptions struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
	Logger         *infra.Logger
}

// Remote performs HTTP calls to the neural-reconstruction service. One
// attempt per call; the orchestrator decides whether to fall back.
type Remote struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

type remoteResponse struct {
	Success    *bool             `json:"success"`
	SceneID    string            `json:"scene_id"`
	Files      map[string]string `json:"files"`
	Renders    []string          `json:"renders"`
	Iterations int               `json:"iterations"`
	Message    string            `json:"message"`
}

// NewRemote constructs a remote invoker with an explicit request timeout.
// The upstream transport default is not relied on.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Remote{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// Run posts the job config and the session's source images as a multipart
// payload. Network errors, non-2xx statuses, and 2xx bodies without a true
// success flag all classify as RemoteFailure.
func (r *Remote) Run(ctx context.Context, cfg jobconfig.JobConfig, images []domain.SourceImage) (domain.InvocationResult, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	configPart, err := mw.CreateFormField("config")
	if err != nil {
		return domain.InvocationResult{}, fmt.Errorf("invoker: build multipart: %w", err)
	}
	if err := json.NewEncoder(configPart).Encode(cfg); err != nil {
		return domain.InvocationResult{}, fmt.Errorf("invoker: encode config: %w", err)
	}
	for i, img := range images {
		name := img.Filename
		if name == "" {
			name = fmt.Sprintf("image-%d", i)
		}
		part, err := mw.CreateFormFile("images", name)
		if err != nil {
			return domain.InvocationResult{}, fmt.Errorf("invoker: build multipart: %w", err)
		}
		if _, err := part.Write(img.Data); err != nil {
			return domain.InvocationResult{}, fmt.Errorf("invoker: write image part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return domain.InvocationResult{}, fmt.Errorf("invoker: finish multipart: %w", err)
	}

	endpoint := r.baseURL + "/process-images-to-3d"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return domain.InvocationResult{}, fmt.Errorf("invoker: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn().Err(err).Str("session_id", cfg.SessionID).Msg("invoker: ml service unreachable")
		return domain.InvocationResult{
			Kind: domain.ResultRemoteFailure,
			Body: err.Error(),
		}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.InvocationResult{
			Kind:       domain.ResultRemoteFailure,
			HTTPStatus: resp.StatusCode,
			Body:       err.Error(),
		}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn().
			Int("status", resp.StatusCode).
			Str("session_id", cfg.SessionID).
			Msg("invoker: ml service returned error status")
		return domain.InvocationResult{
			Kind:       domain.ResultRemoteFailure,
			HTTPStatus: resp.StatusCode,
			Body:       excerpt(raw),
		}, nil
	}

	var decoded remoteResponse
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.Success == nil || !*decoded.Success {
		return domain.InvocationResult{
			Kind:       domain.ResultRemoteFailure,
			HTTPStatus: resp.StatusCode,
			Body:       excerpt(raw),
		}, nil
	}

	rawFiles := make(map[domain.OutputFormat]string, len(decoded.Files))
	for tag, path := range decoded.Files {
		f := domain.OutputFormat(strings.ToLower(tag))
		rawFiles[f] = path
	}
	markers := map[string]string{}
	if decoded.SceneID != "" {
		markers["SCENE_ID"] = decoded.SceneID
	}
	r.logger.Info().
		Str("session_id", cfg.SessionID).
		Str("scene_id", decoded.SceneID).
		Int("files", len(rawFiles)).
		Msg("invoker: ml service completed")
	return domain.InvocationResult{
		Kind:     domain.ResultSuccess,
		RawFiles: rawFiles,
		AuxFiles: decoded.Renders,
		Markers:  markers,
	}, nil
}

// Status re-queries the ML service's own status endpoint for a session. The
// orchestrator keeps no job table of its own, so polling proxies upstream.
func (r *Remote) Status(ctx context.Context, sessionID string) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/nerf-status/%s", r.baseURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("invoker: build status request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoker: status request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("invoker: status %d from ml service", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("invoker: read status: %w", err)
	}
	return json.RawMessage(raw), nil
}

func excerpt(raw []byte) string {
	const max = 512
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
