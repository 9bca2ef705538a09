package jobconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"render-orchestrator/internal/domain"
)

// TierParams is one row of the quality-tier table: the performance and
// precision knobs derived from a named tier. This table is the single place
// the tier-to-performance mapping lives.
type TierParams struct {
	Iterations      int     `yaml:"iterations"`
	BatchSize       int     `yaml:"batch_size"`
	LearningRate    float64 `yaml:"learning_rate"`
	SamplingDensity int     `yaml:"sampling_density"`
}

// defaultTiers is the built-in table. Iterations and sampling density rise
// strictly with tier; batch size never rises (more precision per sample,
// fewer samples per batch).
var defaultTiers = map[domain.QualityTier]TierParams{
	domain.TierDraft:  {Iterations: 5000, BatchSize: 4096, LearningRate: 0.01, SamplingDensity: 64},
	domain.TierMedium: {Iterations: 15000, BatchSize: 4096, LearningRate: 0.005, SamplingDensity: 128},
	domain.TierHigh:   {Iterations: 30000, BatchSize: 2048, LearningRate: 0.001, SamplingDensity: 192},
	domain.TierUltra:  {Iterations: 50000, BatchSize: 1024, LearningRate: 0.0005, SamplingDensity: 256},
}

var tierOrder = []domain.QualityTier{domain.TierDraft, domain.TierMedium, domain.TierHigh, domain.TierUltra}

// LoadTierTable reads a YAML tier table from path. Missing tiers inherit the
// built-in row. The merged table must satisfy the same monotonicity the
// built-in one does, otherwise an error is returned and the caller should
// keep the defaults.
func LoadTierTable(path string) (map[domain.QualityTier]TierParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jobconfig: read tier table: %w", err)
	}
	var overrides map[string]TierParams
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("jobconfig: parse tier table: %w", err)
	}
	merged := make(map[domain.QualityTier]TierParams, len(defaultTiers))
	for tier, params := range defaultTiers {
		merged[tier] = params
	}
	for name, params := range overrides {
		tier := domain.QualityTier(name)
		if _, ok := merged[tier]; !ok {
			return nil, fmt.Errorf("jobconfig: unknown tier %q in table", name)
		}
		merged[tier] = params
	}
	if err := validateTierTable(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func validateTierTable(table map[domain.QualityTier]TierParams) error {
	for i := 1; i < len(tierOrder); i++ {
		lo, hi := table[tierOrder[i-1]], table[tierOrder[i]]
		if hi.Iterations <= lo.Iterations {
			return fmt.Errorf("jobconfig: iterations must rise from %s to %s", tierOrder[i-1], tierOrder[i])
		}
		if hi.SamplingDensity <= lo.SamplingDensity {
			return fmt.Errorf("jobconfig: sampling density must rise from %s to %s", tierOrder[i-1], tierOrder[i])
		}
		if hi.BatchSize > lo.BatchSize {
			return fmt.Errorf("jobconfig: batch size must not rise from %s to %s", tierOrder[i-1], tierOrder[i])
		}
	}
	for _, tier := range tierOrder {
		p := table[tier]
		if p.Iterations <= 0 || p.BatchSize <= 0 || p.SamplingDensity <= 0 || p.LearningRate <= 0 {
			return fmt.Errorf("jobconfig: tier %s has non-positive parameters", tier)
		}
	}
	return nil
}
