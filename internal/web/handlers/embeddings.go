package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/hanifabd/rollcall/internal/storage"
	"github.com/hanifabd/rollcall/internal/store"
)

// EmbeddingsHandler answers preflight questions about enrollment scopes so
// the client can warn about an empty scope before opening a recognition
// session.
type EmbeddingsHandler struct {
	store *storage.Store
}

// NewEmbeddingsHandler creates an embeddings handler.
func NewEmbeddingsHandler(store *storage.Store) *EmbeddingsHandler {
	return &EmbeddingsHandler{store: store}
}

// Load counts the enrollments matching a scope by performing the same load
// the recognition session will perform.
func (h *EmbeddingsHandler) Load(w http.ResponseWriter, r *http.Request) {
	var scope store.Scope
	if err := json.NewDecoder(r.Body).Decode(&scope); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if err := scope.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	probe := store.New(h.store)
	count, err := probe.Load(r.Context(), scope)
	if err != nil {
		if errors.Is(err, store.ErrStoreUnavailable) {
			log.Printf("embedding preflight failed: %v", err)
			respondError(w, http.StatusInternalServerError, "enrollment store unavailable")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"count":   count,
		"skipped": probe.SkippedAtLoad(),
	})
}
