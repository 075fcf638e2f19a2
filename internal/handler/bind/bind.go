// Package bind handles consumer binding events. Module content needs no
// consumer side state, so every operation succeeds without doing anything.
package bind

import (
	"log/slog"
)

type Binding struct {
	RepoID        string         `json:"repo_id"`
	DistributorID string         `json:"distributor_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

type Report struct {
	RepoID    string         `json:"repo_id"`
	Succeeded bool           `json:"succeeded"`
	Details   map[string]any `json:"details"`
}

type CleanReport struct {
	Succeeded bool           `json:"succeeded"`
	Details   map[string]any `json:"details"`
}

type Handler struct {
	log *slog.Logger
}

func NewHandler(log *slog.Logger) *Handler {
	return &Handler{
		log: log.With(slog.String("item", "BindHandler")),
	}
}

func (h *Handler) Bind(binding Binding) Report {
	h.log.Debug("Bind", slog.String("repo_id", binding.RepoID))

	return Report{RepoID: binding.RepoID, Succeeded: true, Details: map[string]any{}}
}

func (h *Handler) Unbind(repoID string) Report {
	h.log.Debug("Unbind", slog.String("repo_id", repoID))

	return Report{RepoID: repoID, Succeeded: true, Details: map[string]any{}}
}

func (h *Handler) Clean() CleanReport {
	return CleanReport{Succeeded: true, Details: map[string]any{}}
}
