package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/infra"
	"render-orchestrator/internal/jobconfig"
)

// ErrMissingBinary indicates the process invoker was configured without a
// renderer binary path.
var ErrMissingBinary = errors.New("invoker: renderer binary is required")

// Stdout marker keys the renderer emits, one `KEY: value` per line.
const (
	markerSceneID  = "SCENE_ID"
	markerOBJFile  = "OBJ_FILE"
	markerMTLFile  = "MTL_FILE"
	markerBlend    = "BLEND_FILE"
	markerRender   = "RENDER_PNG"
	stderrTailSize = 20
)

// ProcessOptions configures the subprocess invoker.
type ProcessOptions struct {
	Binary string
	Logger *infra.Logger
}

// Process runs the external renderer as a subprocess under a wall-clock
// timeout and classifies the outcome from its exit status and stdout markers.
type Process struct {
	binary string
	logger *infra.Logger
}

// NewProcess constructs a subprocess invoker.
func NewProcess(opts ProcessOptions) (*Process, error) {
	if strings.TrimSpace(opts.Binary) == "" {
		return nil, ErrMissingBinary
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Process{binary: opts.Binary, logger: logger}, nil
}

// Run writes the job config to a uniquely named temp file, spawns the
// renderer with that path as its sole argument, and waits up to timeout.
// The temp file is removed on every exit path; the artifacts it referenced
// stay behind for staging. The returned error covers only pre-invocation
// failures (config serialization, temp file IO) — renderer outcomes are
// reported through the InvocationResult kind.
func (p *Process) Run(ctx context.Context, cfg jobconfig.JobConfig, timeout time.Duration) (domain.InvocationResult, error) {
	payload, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return domain.InvocationResult{}, fmt.Errorf("invoker: encode config: %w", err)
	}

	// Nanosecond timestamp in the name keeps concurrent invocations from
	// colliding on the same config path.
	configPath := filepath.Join(os.TempDir(), fmt.Sprintf("render-config-%s-%d.json", cfg.SessionID, time.Now().UnixNano()))
	if err := os.WriteFile(configPath, payload, 0o644); err != nil {
		return domain.InvocationResult{}, fmt.Errorf("invoker: write config: %w", err)
	}
	defer func() {
		if err := os.Remove(configPath); err != nil && !os.IsNotExist(err) {
			p.logger.Warn().Err(err).Str("path", configPath).Msg("invoker: config cleanup failed")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, p.binary, configPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(started)

	if runCtx.Err() == context.DeadlineExceeded {
		p.logger.Warn().
			Str("session_id", cfg.SessionID).
			Dur("elapsed", elapsed).
			Msg("invoker: renderer timed out, process killed")
		return domain.InvocationResult{Kind: domain.ResultTimeout}, nil
	}
	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		tail := lastLines(stderr.String(), stderrTailSize)
		p.logger.Error().
			Str("session_id", cfg.SessionID).
			Int("exit_code", exitCode).
			Msg("invoker: renderer exited nonzero")
		return domain.InvocationResult{
			Kind:       domain.ResultProcessFailure,
			ExitCode:   exitCode,
			StderrTail: tail,
		}, nil
	}

	result := parseMarkers(stdout.String())
	if result.Kind == domain.ResultSuccess {
		p.logger.Info().
			Str("session_id", cfg.SessionID).
			Str("scene_id", result.Markers[markerSceneID]).
			Dur("elapsed", elapsed).
			Msg("invoker: renderer completed")
	}
	return result, nil
}

// parseMarkers scans renderer stdout line-by-line for the fixed `KEY: value`
// marker set and locates the produced files. No expected marker at all means
// the renderer spoke a protocol we do not understand.
func parseMarkers(out string) domain.InvocationResult {
	markers := make(map[string]string)
	rawFiles := make(map[domain.OutputFormat]string)
	var aux []string

	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case markerSceneID:
			markers[markerSceneID] = value
		case markerOBJFile:
			markers[markerOBJFile] = value
			rawFiles[domain.FormatOBJ] = value
		case markerBlend:
			markers[markerBlend] = value
			rawFiles[domain.FormatBlend] = value
		case markerMTLFile:
			markers[markerMTLFile] = value
			aux = append(aux, value)
		case markerRender:
			aux = append(aux, value)
		}
	}

	if len(markers) == 0 && len(aux) == 0 {
		return domain.InvocationResult{
			Kind:   domain.ResultMalformedOutput,
			Reason: "no expected markers in renderer output",
		}
	}
	return domain.InvocationResult{
		Kind:     domain.ResultSuccess,
		RawFiles: rawFiles,
		AuxFiles: aux,
		Markers:  markers,
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
