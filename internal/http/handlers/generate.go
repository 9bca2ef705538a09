package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"render-orchestrator/internal/domain"
)

type generateRequest struct {
	SessionID   string          `json:"session_id"`
	Room        domain.RoomSpec `json:"room"`
	Tier        string          `json:"tier"`
	Formats     []string        `json:"formats"`
	CameraCount int             `json:"camera_count"`
	Images      []imagePayload  `json:"images"`
}

type imagePayload struct {
	Filename string `json:"filename"`
	MIME     string `json:"mime"`
	Data     string `json:"data"`
}

// Generate accepts a visualization request and runs the full pipeline
// synchronously on this request's goroutine. Once the spec is valid the
// response is always a well-formed artifact set; failures upstream surface
// only through the degraded flag.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	session, err := sessionFromRequest(req)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	set, err := a.Orch.Generate(r.Context(), session)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSpec) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Str("session_id", session.ID).Msg("generate failed")
		a.error(w, http.StatusInternalServerError, "internal", "generation failed")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":  true,
		"degraded": set.Degraded,
		"result":   set,
	})
}

// SessionStatus answers polling queries by session identifier.
func (a *App) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	status, err := a.Orch.Status(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if errors.Is(err, domain.ErrInvalidSpec) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "status lookup failed")
		return
	}
	a.json(w, http.StatusOK, status)
}

func sessionFromRequest(req generateRequest) (*domain.GenerationSession, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		id = uuid.NewString()
	}
	images := make([]domain.SourceImage, 0, len(req.Images))
	for _, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, errors.New("images must be base64 encoded")
		}
		images = append(images, domain.SourceImage{
			Filename: img.Filename,
			MIME:     img.MIME,
			Data:     data,
		})
	}
	return &domain.GenerationSession{
		ID:           id,
		Room:         req.Room,
		Tier:         domain.NormalizeTier(req.Tier),
		Formats:      domain.NormalizeFormats(req.Formats),
		CameraCount:  req.CameraCount,
		SourceImages: images,
		CreatedAt:    time.Now(),
	}, nil
}
