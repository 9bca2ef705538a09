package domain

import (
	"strings"
	"time"
)

// QualityTier enumerates the named quality levels a caller can request.
type QualityTier string

const (
	TierDraft  QualityTier = "draft"
	TierMedium QualityTier = "medium"
	TierHigh   QualityTier = "high"
	TierUltra  QualityTier = "ultra"
)

// tierRank orders tiers for comparison; higher rank means more precision.
var tierRank = map[QualityTier]int{
	TierDraft:  0,
	TierMedium: 1,
	TierHigh:   2,
	TierUltra:  3,
}

// NormalizeTier sanitizes free-form caller input into a supported tier.
// Unknown values fall back to TierHigh.
func NormalizeTier(raw string) QualityTier {
	t := QualityTier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := tierRank[t]; ok {
		return t
	}
	return TierHigh
}

// Rank returns the tier's position in the fixed draft<medium<high<ultra order.
func (t QualityTier) Rank() int {
	return tierRank[t]
}

// OutputFormat enumerates supported artifact formats.
type OutputFormat string

const (
	FormatOBJ   OutputFormat = "obj"
	FormatPLY   OutputFormat = "ply"
	FormatGLTF  OutputFormat = "gltf"
	FormatBlend OutputFormat = "blend"
)

var knownFormats = map[OutputFormat]struct{}{
	FormatOBJ:   {},
	FormatPLY:   {},
	FormatGLTF:  {},
	FormatBlend: {},
}

// NormalizeFormats filters the requested format tags down to the supported
// set, preserving caller order and dropping duplicates. An empty request
// yields the OBJ default.
func NormalizeFormats(raw []string) []OutputFormat {
	seen := make(map[OutputFormat]struct{}, len(raw))
	var out []OutputFormat
	for _, r := range raw {
		f := OutputFormat(strings.ToLower(strings.TrimSpace(r)))
		if _, ok := knownFormats[f]; !ok {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		out = []OutputFormat{FormatOBJ}
	}
	return out
}

// RoomSpec describes the scene geometry a session asks the renderer to build.
type RoomSpec struct {
	Width  float64 `json:"width"`
	Length float64 `json:"length"`
	Height float64 `json:"height"`
	Style  string  `json:"style,omitempty"`
}

// SourceImage is one caller-supplied photograph for the reconstruction path.
type SourceImage struct {
	Filename string `json:"filename"`
	MIME     string `json:"mime"`
	Data     []byte `json:"-"`
}

// GenerationSession is one generation request's logical identity, spanning
// config build through artifact delivery. Immutable once created.
type GenerationSession struct {
	ID           string
	Room         RoomSpec
	Tier         QualityTier
	Formats      []OutputFormat
	CameraCount  int
	SourceImages []SourceImage
	CreatedAt    time.Time
}

// HasSourceImages reports whether the session carries photographs, which
// selects the reconstruction-from-photos pipeline.
func (s *GenerationSession) HasSourceImages() bool {
	return len(s.SourceImages) > 0
}

// Version returns the cache-busting token derived from the session's
// creation time. Destination file names and public URLs both embed it.
func (s *GenerationSession) Version() int64 {
	return s.CreatedAt.UnixMilli()
}
