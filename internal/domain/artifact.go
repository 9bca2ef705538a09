package domain

// ArtifactMeta carries numeric metadata about how an artifact set was made.
type ArtifactMeta struct {
	ProcessingSeconds float64 `json:"processing_seconds"`
	Iterations        int     `json:"iterations"`
	QualityScore      float64 `json:"quality_score"`
}

// ArtifactSet is the caller-visible result of a generation session. The
// caller holds only URLs; the artifact store exclusively owns the files.
// MissingFiles lists raw paths the invoker reported but the store could not
// find; informational, it does not affect the degraded flag.
type ArtifactSet struct {
	SessionID    string                  `json:"session_id"`
	SceneID      string                  `json:"scene_id,omitempty"`
	Files        map[OutputFormat]string `json:"files"`
	AuxFiles     []string                `json:"aux_files,omitempty"`
	MissingFiles []string                `json:"missing_files,omitempty"`
	Degraded     bool                    `json:"degraded"`
	Meta         ArtifactMeta            `json:"meta"`
}
