package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"render-orchestrator/internal/artifact"
	"render-orchestrator/internal/domain"
	"render-orchestrator/pkg/zip"
)

// ServeRender serves one staged artifact as a download. The version query
// parameter only exists for cache busting; resolution ignores it and walks
// the documented directory fallback chain.
func (a *App) ServeRender(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	path, err := a.Store.Resolve(name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "artifact not found")
			return
		}
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	w.Header().Set("Content-Type", artifact.ContentTypeFor(name))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// SessionArchive streams every staged file of a session as one zip download.
func (a *App) SessionArchive(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	paths, err := a.Store.ListSession(sessionID)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(paths) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no artifacts for session")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sessionID+".zip"))
	if err := zip.ArchiveFiles(w, paths); err != nil {
		a.Logger.Error().Err(err).Str("session_id", sessionID).Msg("archive stream failed")
	}
}
