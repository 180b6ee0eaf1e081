package server

import "net/http"

// handleListModels implements GET /api/models: every model name known to
// the Provider Registry's model table (spec §4.6).
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelListResponse{Models: s.deps.Providers.ListModels()})
}

// handleListProviders implements GET /api/providers: the names of every
// registered provider instance.
func (s *server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, providerListResponse{Providers: s.deps.Providers.List()})
}

type modelListResponse struct {
	Models []string `json:"models"`
}

type providerListResponse struct {
	Providers []string `json:"providers"`
}
