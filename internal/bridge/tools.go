package bridge

import (
	"render-orchestrator/internal/domain"
	"render-orchestrator/internal/orchestrator"
)

// ProtocolVersion is the capability-handshake version this bridge speaks.
const ProtocolVersion = "2024-11-05"

// Tool names exposed through the bridge.
const (
	ToolGenerateModel = "generate_3d_model"
	ToolTrainNerf     = "train_nerf_scene"
	ToolRenderView    = "render_novel_view"
	ToolExtractMesh   = "extract_mesh"
)

// ToolDescriptor describes one callable tool in the negotiated catalog.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalog is the fixed tool set, cached on the protocol session after the
// handshake.
func Catalog() []ToolDescriptor {
	return []ToolDescriptor{
		{Name: ToolGenerateModel, Description: "Generate a 3D scene from a room specification"},
		{Name: ToolTrainNerf, Description: "Train a neural reconstruction from source photographs"},
		{Name: ToolRenderView, Description: "Render a novel viewpoint of an existing scene"},
		{Name: ToolExtractMesh, Description: "Extract a mesh file from an existing scene"},
	}
}

// GenerateModelArgs are the caller inputs for generate_3d_model and
// train_nerf_scene.
type GenerateModelArgs struct {
	SessionID   string          `json:"session_id,omitempty"`
	Room        domain.RoomSpec `json:"room"`
	Tier        string          `json:"tier"`
	Formats     []string        `json:"formats"`
	CameraCount int             `json:"camera_count,omitempty"`
}

// RenderViewArgs are the caller inputs for render_novel_view.
type RenderViewArgs struct {
	SessionID string     `json:"session_id"`
	Position  [3]float64 `json:"position"`
	Rotation  [3]float64 `json:"rotation"`
}

// ExtractMeshArgs are the caller inputs for extract_mesh.
type ExtractMeshArgs struct {
	SessionID string `json:"session_id"`
	FileName  string `json:"file_name"`
	Format    string `json:"format,omitempty"`
}

// GenerateModelResult is the generate_3d_model variant.
type GenerateModelResult struct {
	ArtifactSet domain.ArtifactSet `json:"artifact_set"`
}

// TrainNerfResult is the train_nerf_scene variant.
type TrainNerfResult struct {
	SessionID   string                     `json:"session_id"`
	ArtifactSet domain.ArtifactSet         `json:"artifact_set"`
	Status      orchestrator.SessionStatus `json:"status"`
}

// RenderViewResult is the render_novel_view variant.
type RenderViewResult struct {
	SessionID string `json:"session_id"`
	ImageURL  string `json:"image_url"`
}

// ExtractMeshResult is the extract_mesh variant.
type ExtractMeshResult struct {
	SessionID string `json:"session_id"`
	MeshURL   string `json:"mesh_url"`
	Format    string `json:"format"`
}

// ToolResult is the tagged per-tool union returned by CallTool. Exactly one
// variant pointer is set for a successful call. Simulated marks results
// produced by the in-process responder rather than the real pipeline.
type ToolResult struct {
	Tool      string `json:"tool"`
	Simulated bool   `json:"simulated"`

	GenerateModel *GenerateModelResult `json:"generate_model,omitempty"`
	TrainNerf     *TrainNerfResult     `json:"train_nerf,omitempty"`
	RenderView    *RenderViewResult    `json:"render_view,omitempty"`
	ExtractMesh   *ExtractMeshResult   `json:"extract_mesh,omitempty"`
}
