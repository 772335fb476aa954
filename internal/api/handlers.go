package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bobarin/reels/internal/db"
	"github.com/bobarin/reels/internal/models"
	"github.com/bobarin/reels/internal/reel"
	"github.com/bobarin/reels/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ownerHeader = "X-Owner"

	// Room for JSON framing and options around the inline payloads.
	bodyOverhead = 1 << 20
)

var errNotOwner = errors.New("artifact belongs to another owner")

// JobStore is the persistence the HTTP surface needs.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.RenderJob) error
	GetJobForOwner(ctx context.Context, id uuid.UUID, owner string) (*models.RenderJob, error)
	ListOwnerArtifacts(ctx context.Context, owner string) ([]models.Artifact, error)
	DeleteArtifact(ctx context.Context, id uuid.UUID, removeFile func(context.Context, models.Artifact) error) error
}

// JobNotifier nudges idle workers after intake. Optional.
type JobNotifier interface {
	NotifyJobQueued(ctx context.Context, jobID uuid.UUID, owner string) error
}

type Handler struct {
	store       JobStore
	notifier    JobNotifier
	artifacts   storage.ArtifactStore
	limits      reel.Limits
	uploadsRoot string // empty = stored files must declare their size
	logger      *zap.Logger
}

func NewHandler(store JobStore, notifier JobNotifier, artifacts storage.ArtifactStore, limits reel.Limits, uploadsRoot string, logger *zap.Logger) *Handler {
	return &Handler{
		store:       store,
		notifier:    notifier,
		artifacts:   artifacts,
		limits:      limits,
		uploadsRoot: uploadsRoot,
		logger:      logger.Named("api"),
	}
}

// maxBodyBytes is the intake body ceiling: the decoded total ceiling
// inflated by base64.
func (h *Handler) maxBodyBytes() int64 {
	return h.limits.MaxTotalBytes/3*4 + bodyOverhead
}

// CreateJob handles POST /v1/jobs
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes())

	var req models.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondCodedError(w, http.StatusRequestEntityTooLarge, reel.CodeValidationFailed, "request body is too large")
			return
		}
		respondCodedError(w, http.StatusBadRequest, reel.CodeValidationFailed, "invalid request body")
		return
	}

	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		owner = strings.TrimSpace(r.Header.Get(ownerHeader))
	}
	if owner == "" {
		respondCodedError(w, http.StatusBadRequest, reel.CodeValidationFailed, "owner is required")
		return
	}

	opts := req.Options.WithDefaults()
	if err := opts.Validate(); err != nil {
		respondCodedError(w, http.StatusBadRequest, reel.CodeValidationFailed, err.Error())
		return
	}
	if err := h.recordStoredSizes(req.Items, &opts); err != nil {
		respondReelError(w, err)
		return
	}
	if err := reel.CheckRequest(req.Items, opts, h.limits); err != nil {
		respondReelError(w, err)
		return
	}

	job := &models.RenderJob{
		ID:     uuid.New(),
		Owner:  owner,
		Status: models.JobStatusQueued,
		Spec:   models.RenderSpec{Items: req.Items, Options: opts},
	}
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.logger.Error("Failed to create job", zap.Error(err))
		respondCodedError(w, http.StatusInternalServerError, reel.CodeInternal, "failed to create job")
		return
	}

	// Workers poll the table anyway; a failed nudge only delays pickup.
	if h.notifier != nil {
		if err := h.notifier.NotifyJobQueued(r.Context(), job.ID, owner); err != nil {
			h.logger.Warn("Failed to notify workers", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}

	h.logger.Info("Job queued",
		zap.String("job_id", job.ID.String()),
		zap.String("owner", owner),
		zap.Int("items", len(req.Items)),
	)
	respondJSON(w, http.StatusCreated, models.CreateJobResponse{JobID: job.ID, Status: job.Status})
}

// recordStoredSizes replaces the declared size of every stored file with
// its size on disk, so the ceilings are checked against real bytes.
func (h *Handler) recordStoredSizes(items []models.MediaItem, opts *models.RenderOptions) error {
	const op = "intake.stored"
	if h.uploadsRoot == "" {
		return nil
	}

	for i := range items {
		if items[i].StoredPath == "" || items[i].DataURL != "" {
			continue
		}
		_, st, err := storage.ResolveUpload(h.uploadsRoot, items[i].StoredPath)
		if err != nil {
			return reel.Wrap(err, reel.CodeValidationFailed, op, fmt.Sprintf("item %d: stored file not found", i))
		}
		items[i].Size = st.Size()
	}

	if m := opts.Music; m != nil && m.StoredPath != "" && m.DataURL == "" {
		_, st, err := storage.ResolveUpload(h.uploadsRoot, m.StoredPath)
		if err != nil {
			return reel.Wrap(err, reel.CodeValidationFailed, op, "music: stored file not found")
		}
		music := *m
		music.Size = st.Size()
		opts.Music = &music
	}
	return nil
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}
	owner := r.Header.Get(ownerHeader)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner header is required")
		return
	}

	job, err := h.store.GetJobForOwner(r.Context(), jobID, owner)
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	respondJSON(w, http.StatusOK, job.StatusView())
}

// ListArtifacts handles GET /v1/artifacts
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(ownerHeader)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner header is required")
		return
	}

	artifacts, err := h.store.ListOwnerArtifacts(r.Context(), owner)
	if err != nil {
		h.logger.Error("Failed to list artifacts", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list artifacts")
		return
	}
	if artifacts == nil {
		artifacts = []models.Artifact{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"artifacts": artifacts})
}

// DeleteArtifact handles DELETE /v1/artifacts/{id}
func (h *Handler) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid artifact ID")
		return
	}
	owner := r.Header.Get(ownerHeader)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "X-Owner header is required")
		return
	}

	err = h.store.DeleteArtifact(r.Context(), artifactID, func(ctx context.Context, a models.Artifact) error {
		if a.Owner != owner {
			return errNotOwner
		}
		return h.artifacts.Delete(ctx, a.FileName)
	})
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, errNotOwner) {
		respondError(w, http.StatusNotFound, "Artifact not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to delete artifact", zap.String("artifact_id", artifactID.String()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to delete artifact")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondCodedError(w http.ResponseWriter, status int, code reel.Code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": string(code)})
}

func respondReelError(w http.ResponseWriter, err error) {
	respondCodedError(w, reel.HTTPStatus(err), reel.GetCode(err), reel.UserMessage(err))
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
