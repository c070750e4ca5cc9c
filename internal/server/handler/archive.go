package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

// ArchiveRunner runs one archival pass.
type ArchiveRunner interface {
	Run(ctx context.Context) (int64, error)
}

// ArchiveHandler browses archived event batches and triggers archival.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	runner ArchiveRunner
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. runner may be nil when
// archival runs elsewhere.
func NewArchiveHandler(blobs domain.BlobReader, runner ArchiveRunner, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, runner: runner, logger: logger}
}

type archiveView struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// List returns archived batches under a prefix.
// GET /api/archives?prefix=events/2026/03/
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "events/"
	}
	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeDomainError(w, r, h.logger, "list archives", err)
		return
	}
	views := make([]archiveView, len(infos))
	for i, info := range infos {
		views[i] = archiveView{Path: info.Path, Size: info.Size, LastModified: info.LastModified}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": views})
}

// Download streams one archived batch as JSON lines.
// GET /api/archives/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	rc, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		writeDomainError(w, r, h.logger, "get archive", err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive download interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// Run archives expired events now instead of waiting for the schedule.
// POST /api/admin/archive/run
func (h *ArchiveHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "archival is not configured")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: archive run requested")
	n, err := h.runner.Run(r.Context())
	if err != nil {
		writeDomainError(w, r, h.logger, "archive run", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived":     n,
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}
