package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/infra"
)

// PublicPathPrefix is the URL prefix under which staged artifacts are served.
const PublicPathPrefix = "/renders"

// legacyPrefix qualifies file names from invocations that predate the
// current layout.
const legacyPrefix = "legacy_"

// StoreOptions configures the artifact store.
type StoreOptions struct {
	// RendersDir is the stable public staging directory the store owns.
	RendersDir string
	// RawOutputDir is where the external renderer drops files; searched by
	// Resolve after the staging area.
	RawOutputDir string
	// LegacyDir holds artifacts from the previous layout, under a
	// legacy_-prefixed name. Defaults to RawOutputDir.
	LegacyDir string
	Logger    *infra.Logger
}

// Store is the collision-free staging area serving generated files. Writes
// are append-only by distinct file name; destination names embed the session
// id and version so concurrent sessions never clobber each other.
type Store struct {
	rendersDir   string
	rawOutputDir string
	legacyDir    string
	logger       *infra.Logger
}

// StageResult summarizes one staging pass. Missing lists raw paths that did
// not exist; partial success is allowed, not fatal.
type StageResult struct {
	Files    map[domain.OutputFormat]string
	AuxURLs  []string
	Missing  []string
	SceneDir string
}

// NewStore initializes the store and ensures the public directory exists.
func NewStore(opts StoreOptions) (*Store, error) {
	rendersDir := strings.TrimSpace(opts.RendersDir)
	if rendersDir == "" {
		return nil, errors.New("artifact: renders dir is required")
	}
	if err := os.MkdirAll(rendersDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: ensure renders dir: %w", err)
	}
	legacyDir := opts.LegacyDir
	if legacyDir == "" {
		legacyDir = opts.RawOutputDir
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Store{
		rendersDir:   rendersDir,
		rawOutputDir: opts.RawOutputDir,
		legacyDir:    legacyDir,
		logger:       logger,
	}, nil
}

// RendersDir returns the public staging directory.
func (s *Store) RendersDir() string {
	return s.rendersDir
}

// Stage copies raw renderer output into the public staging area under
// collision-free names and returns cache-busted URLs. Each copy is
// at-most-once: an existing destination is kept as-is, so staging the same
// invocation twice is idempotent.
func (s *Store) Stage(result domain.InvocationResult, sessionID string, version int64) (StageResult, error) {
	if sessionID == "" {
		return StageResult{}, errors.New("artifact: session id is required")
	}
	out := StageResult{Files: make(map[domain.OutputFormat]string, len(result.RawFiles))}
	for format, rawPath := range result.RawFiles {
		url, ok := s.stageOne(rawPath, sessionID, version)
		if !ok {
			out.Missing = append(out.Missing, rawPath)
			continue
		}
		out.Files[format] = url
	}
	for _, rawPath := range result.AuxFiles {
		url, ok := s.stageOne(rawPath, sessionID, version)
		if !ok {
			out.Missing = append(out.Missing, rawPath)
			continue
		}
		out.AuxURLs = append(out.AuxURLs, url)
	}
	return out, nil
}

func (s *Store) stageOne(rawPath string, sessionID string, version int64) (string, bool) {
	if _, err := os.Stat(rawPath); err != nil {
		s.logger.Warn().Str("path", rawPath).Msg("artifact: raw file missing, skipping")
		return "", false
	}
	name := DestinationName(rawPath, sessionID, version)
	dest := filepath.Join(s.rendersDir, name)
	if _, err := os.Stat(dest); err == nil {
		// Already staged; content identity is assumed from the raw path's
		// origin, not re-hashed.
		return s.publicURL(name, version), true
	}
	if err := copyFile(rawPath, dest); err != nil {
		s.logger.Warn().Err(err).Str("path", rawPath).Msg("artifact: copy failed, skipping")
		return "", false
	}
	return s.publicURL(name, version), true
}

// DestinationName computes the collision-free public name for a raw file:
// `<base>-<sessionID>-<version>.<ext>`. Two concurrent sessions both
// producing scene.obj land on distinct destinations.
func DestinationName(rawPath, sessionID string, version int64) string {
	base := filepath.Base(rawPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s-%s-%d%s", stem, sessionID, version, ext)
}

func (s *Store) publicURL(name string, version int64) string {
	return fmt.Sprintf("%s/%s?v=%d", PublicPathPrefix, name, version)
}

// ListSession returns the staged file paths belonging to one session, in
// directory order. Destination names embed the session id, which is what
// makes this lookup possible without an index.
func (s *Store) ListSession(sessionID string) ([]string, error) {
	if sessionID == "" {
		return nil, errors.New("artifact: session id is required")
	}
	entries, err := os.ReadDir(s.rendersDir)
	if err != nil {
		return nil, fmt.Errorf("artifact: read renders dir: %w", err)
	}
	marker := "-" + sessionID + "-"
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.Contains(entry.Name(), marker) {
			paths = append(paths, filepath.Join(s.rendersDir, entry.Name()))
		}
	}
	return paths, nil
}

// Resolve maps a logical file name to a path on disk, searching the public
// staging area first, the raw renderer output directory second, and a
// legacy-prefixed name last. This order is the documented fallback chain for
// serving historical artifacts.
func (s *Store) Resolve(logicalName string) (string, error) {
	name, err := sanitizeName(logicalName)
	if err != nil {
		return "", err
	}
	candidates := []string{
		filepath.Join(s.rendersDir, name),
	}
	if s.rawOutputDir != "" {
		candidates = append(candidates, filepath.Join(s.rawOutputDir, name))
	}
	if s.legacyDir != "" {
		candidates = append(candidates, filepath.Join(s.legacyDir, legacyPrefix+name))
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", domain.ErrNotFound
}

// ContentTypeFor maps an artifact file name to its MIME type by extension.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".obj":
		return "model/obj"
	case ".mtl":
		return "text/plain"
	case ".ply":
		return "application/ply"
	case ".gltf":
		return "model/gltf+json"
	case ".glb":
		return "model/gltf-binary"
	case ".blend":
		return "application/x-blender"
	default:
		return "application/octet-stream"
	}
}

// sanitizeName rejects names that could escape the store's directories.
func sanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("artifact: name is required")
	}
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := filepath.Clean(name)
	if cleaned == "." || strings.Contains(cleaned, "/") || strings.HasPrefix(cleaned, "..") {
		return "", errors.New("artifact: invalid name")
	}
	return cleaned, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("artifact: open source: %w", err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("artifact: ensure directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("artifact: create destination: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("artifact: copy: %w", err)
	}
	return out.Close()
}
