package jobconfig

import (
	"math"

	"render-orchestrator/internal/domain"
)

const (
	// DefaultCameraCount is the orbit-camera count used when the caller
	// does not tune it.
	DefaultCameraCount = 8

	minCameraCount = 2
	maxCameraCount = 64

	cameraHeightRatio = 0.6
	cameraFOVDegrees  = 50.0
)

// Camera is one rig position: where the camera sits, where it points, and
// its field of view in degrees.
type Camera struct {
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
	FOV      float64    `json:"fov"`
}

// JobConfig is the exact configuration payload the external renderer and the
// ML service consume, serialized as a JSON document.
type JobConfig struct {
	SessionID       string                `json:"session_id"`
	Room            domain.RoomSpec       `json:"room"`
	Tier            domain.QualityTier    `json:"tier"`
	Formats         []domain.OutputFormat `json:"formats"`
	Iterations      int                   `json:"iterations"`
	BatchSize       int                   `json:"batch_size"`
	LearningRate    float64               `json:"learning_rate"`
	SamplingDensity int                   `json:"sampling_density"`
	Cameras         []Camera              `json:"cameras"`
}

// Builder derives renderer configuration from a session. Build is pure and
// total: unknown tiers resolve to the high tier, out-of-range camera counts
// clamp to a sane range.
type Builder struct {
	tiers map[domain.QualityTier]TierParams
}

// NewBuilder returns a Builder over the built-in tier table.
func NewBuilder() *Builder {
	return &Builder{tiers: defaultTiers}
}

// NewBuilderWithTable returns a Builder over a caller-supplied table, such as
// one loaded via LoadTierTable. A nil table falls back to the built-in one.
func NewBuilderWithTable(table map[domain.QualityTier]TierParams) *Builder {
	if table == nil {
		table = defaultTiers
	}
	return &Builder{tiers: table}
}

// Params exposes the tier row Build would use, for callers that only need
// the knobs (the bridge simulator scales its delay by iteration count).
func (b *Builder) Params(tier domain.QualityTier) TierParams {
	if p, ok := b.tiers[tier]; ok {
		return p
	}
	return b.tiers[domain.TierHigh]
}

// Build derives the full JobConfig for a session.
func (b *Builder) Build(session *domain.GenerationSession) JobConfig {
	params := b.Params(session.Tier)
	formats := session.Formats
	if len(formats) == 0 {
		formats = []domain.OutputFormat{domain.FormatOBJ}
	}
	return JobConfig{
		SessionID:       session.ID,
		Room:            session.Room,
		Tier:            domain.NormalizeTier(string(session.Tier)),
		Formats:         formats,
		Iterations:      params.Iterations,
		BatchSize:       params.BatchSize,
		LearningRate:    params.LearningRate,
		SamplingDensity: params.SamplingDensity,
		Cameras:         CameraRig(session.Room, session.CameraCount),
	}
}

// CameraRig produces n equally-angled positions around the vertical axis at
// 60% of room height looking toward the center, plus one overhead position
// looking straight down. n is clamped to [2, 64]; n <= 0 selects the default.
func CameraRig(room domain.RoomSpec, n int) []Camera {
	if n <= 0 {
		n = DefaultCameraCount
	}
	if n < minCameraCount {
		n = minCameraCount
	}
	if n > maxCameraCount {
		n = maxCameraCount
	}

	cx, cy := room.Width/2, room.Length/2
	camHeight := room.Height * cameraHeightRatio
	// Orbit radius keeps every camera inside the room with a small margin.
	radius := math.Max(math.Min(cx, cy)*0.8, 0.1)

	rig := make([]Camera, 0, n+1)
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		px := cx + radius*math.Cos(angle)
		py := cy + radius*math.Sin(angle)
		yaw := math.Atan2(cy-py, cx-px) * 180 / math.Pi
		rig = append(rig, Camera{
			Position: [3]float64{px, py, camHeight},
			Rotation: [3]float64{0, 0, yaw},
			FOV:      cameraFOVDegrees,
		})
	}
	rig = append(rig, Camera{
		Position: [3]float64{cx, cy, math.Max(room.Height, 0.1)},
		Rotation: [3]float64{-90, 0, 0},
		FOV:      cameraFOVDegrees,
	})
	return rig
}
