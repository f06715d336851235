// Package server exposes repository operations over HTTP for service mode
// and runs the background commit queue and token refresh alongside it.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kilupskalvis/repodeploy/internal/core"
	"github.com/kilupskalvis/repodeploy/internal/mode"
	"github.com/kilupskalvis/repodeploy/internal/models"
	"github.com/kilupskalvis/repodeploy/internal/progress"
	"github.com/kilupskalvis/repodeploy/internal/queue"
	"github.com/kilupskalvis/repodeploy/internal/registry"
	"github.com/kilupskalvis/repodeploy/internal/state"
)

// Options holds listener settings and limits.
type Options struct {
	Listen            string
	APIToken          string
	RequestsPerMinute int
	MaxRequestBody    int64
	SweepInterval     time.Duration // pending queue retry and progress purge
	RefreshInterval   time.Duration // token service refresh check
}

// DefaultOptions returns reasonable defaults.
func DefaultOptions() Options {
	return Options{
		Listen:            "127.0.0.1:8730",
		RequestsPerMinute: 300,
		MaxRequestBody:    1 << 20,
		SweepInterval:     5 * time.Minute,
		RefreshInterval:   4 * time.Hour,
	}
}

// Refresher renews the token service session when it is due.
type Refresher interface {
	RefreshIfDue(ctx context.Context) (bool, error)
}

// Deps are the components served over HTTP.
type Deps struct {
	Manager    *core.Manager
	Queue      *queue.Queue
	Dispatcher *queue.Dispatcher
	Modes      *mode.Selector
	State      *state.Store
	Refresher  Refresher
	Webhooks   *WebhookNotifier
	Logger     *zap.Logger
}

// Server is the service mode HTTP front end.
type Server struct {
	opts       Options
	manager    *core.Manager
	queue      *queue.Queue
	dispatcher *queue.Dispatcher
	modes      *mode.Selector
	state      *state.Store
	refresher  Refresher
	webhooks   *WebhookNotifier
	limiter    *rateLimiter
	logger     *zap.Logger
}

// New returns a server. A dispatcher is created when deps has none.
func New(opts Options, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil && deps.Queue != nil {
		dispatcher = queue.NewDispatcher(deps.Queue, 16, logger)
	}
	if opts.MaxRequestBody <= 0 {
		opts.MaxRequestBody = DefaultOptions().MaxRequestBody
	}
	return &Server{
		opts:       opts,
		manager:    deps.Manager,
		queue:      deps.Queue,
		dispatcher: dispatcher,
		modes:      deps.Modes,
		state:      deps.State,
		refresher:  deps.Refresher,
		webhooks:   deps.Webhooks,
		limiter:    newRateLimiter(opts.RequestsPerMinute),
		logger:     logger,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware, loggingMiddleware(s.logger), recoveryMiddleware(s.logger))

	r.Get("/healthz", handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(tokenAuth(s.opts.APIToken), s.limiter.middleware)

		r.Get("/mode", s.handleGetMode)
		r.Post("/mode/detect", s.handleDetectMode)
		r.Put("/mode", s.handleForceMode)

		r.Get("/stats", s.handleStats)
		r.Get("/repos", s.handleListRepos)
		r.Post("/repos", s.handleClone)
		r.Route("/repos/{folder}", func(r chi.Router) {
			r.Delete("/", s.handleRemove)
			r.Get("/branch", s.handleCurrentBranch)
			r.Post("/update", s.handleUpdate)
			r.Post("/switch", s.handleSwitch)
			r.Post("/commit", s.handleCommit)
		})

		r.Get("/queue", s.handleListQueue)
		r.Post("/queue/delete", s.handleBulkDelete)
		r.Post("/queue/{id}/retry", s.handleRetry)

		r.Get("/progress/{job}", s.handleProgress)
	})

	return r
}

// --- Mode ---

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	m, err := s.modes.Mode(r.Context())
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	override, err := s.modes.Override()
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	reason, err := s.modes.Reason()
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"mode": string(m), "override": string(override), "reason": reason})
}

func (s *Server) handleDetectMode(w http.ResponseWriter, r *http.Request) {
	m, reason, err := s.modes.Detect(r.Context())
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"mode": string(m), "reason": reason})
}

func (s *Server) handleForceMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := s.readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	forced, ok := models.ParseForceMode(req.Mode)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid mode %q (must be auto, cli or api)", req.Mode), "")
		return
	}
	if err := s.modes.Force(forced); err != nil {
		writeFailure(w, err, "")
		return
	}
	s.handleGetMode(w, r)
}

// --- Repositories ---

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.manager.Stats()
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	writeData(w, http.StatusOK, stats)
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.manager.ListInstalled(r.Context())
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	if repos == nil {
		repos = []*models.InstalledRepository{}
	}
	writeData(w, http.StatusOK, repos)
}

type cloneRequest struct {
	URL        string `json:"url"`
	Branch     string `json:"branch"`
	Type       string `json:"type"`
	RepoName   string `json:"repo_name"`
	CustomName string `json:"custom_name"`
	Token      string `json:"token"`
	JobID      string `json:"job_id"`
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := s.readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	jobID := ensureJobID(req.JobID)

	res, err := s.manager.Clone(detach(r), core.CloneOptions{
		URL:        req.URL,
		Branch:     req.Branch,
		Type:       models.RepoType(req.Type),
		RepoName:   req.RepoName,
		CustomName: req.CustomName,
		Token:      req.Token,
		JobID:      jobID,
	})
	if err != nil {
		writeFailure(w, err, jobID)
		return
	}

	s.webhooks.Notify(WebhookEvent{Event: EventClone, Repository: res.Handle, Type: req.Type, Branch: req.Branch, JobID: jobID})
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		JobID string `json:"job_id"`
	}
	if err := s.readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	jobID := ensureJobID(req.JobID)
	id := identifier(r)

	res, err := s.manager.Update(detach(r), id, req.Token, jobID)
	if err != nil {
		writeFailure(w, err, jobID)
		return
	}

	s.webhooks.Notify(WebhookEvent{Event: EventUpdate, Repository: id, JobID: jobID})
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Branch string `json:"branch"`
		Token  string `json:"token"`
		JobID  string `json:"job_id"`
	}
	if err := s.readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	jobID := ensureJobID(req.JobID)
	id := identifier(r)

	res, err := s.manager.SwitchBranch(detach(r), id, req.Branch, req.Token, jobID)
	if err != nil {
		writeFailure(w, err, jobID)
		return
	}

	s.webhooks.Notify(WebhookEvent{Event: EventSwitch, Repository: id, Branch: req.Branch, JobID: jobID})
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := identifier(r)
	repo, err := s.manager.Remove(detach(r), id)
	if err != nil {
		writeFailure(w, err, "")
		return
	}

	s.webhooks.Notify(WebhookEvent{Event: EventRemove, Repository: repo.FolderName, Type: string(repo.Type)})
	writeData(w, http.StatusOK, map[string]string{"message": "Repository removed successfully"})
}

func (s *Server) handleCurrentBranch(w http.ResponseWriter, r *http.Request) {
	branch, err := s.manager.CurrentBranch(r.Context(), identifier(r))
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"branch": branch})
}

// --- Commit queue ---

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message  string  `json:"message"`
		FilePath *string `json:"file_path"`
	}
	if err := s.readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	id := identifier(r)

	resp, err := s.dispatcher.Submit(r.Context(), queue.Request{Identifier: id, Message: req.Message, FilePath: req.FilePath})
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	if resp.Err != nil {
		writeFailure(w, resp.Err, "")
		return
	}

	if resp.Result.Success {
		s.webhooks.Notify(WebhookEvent{Event: EventCommit, Repository: id, Message: req.Message})
	}
	writeData(w, http.StatusOK, map[string]any{"item": resp.Item, "result": resp.Result})
}

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	status := models.QueueStatus(r.URL.Query().Get("status"))
	items, err := s.queue.List(status)
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}
	writeData(w, http.StatusOK, items)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid queue item id", "")
		return
	}

	res, err := s.queue.Retry(detach(r), id)
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	item, err := s.queue.Get(id)
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"item": item, "result": res})
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := s.readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "no queue item ids given", "")
		return
	}

	n, err := s.queue.BulkDelete(req.IDs)
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	writeData(w, http.StatusOK, map[string]int{"deleted": n})
}

// --- Progress ---

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := progress.Get(s.state, chi.URLParam(r, "job"))
	if err != nil {
		writeFailure(w, err, "")
		return
	}
	writeData(w, http.StatusOK, p)
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Helpers ---

// identifier returns the repository identifier of the request. A type query
// parameter qualifies the folder.
func identifier(r *http.Request) string {
	folder := chi.URLParam(r, "folder")
	if t := r.URL.Query().Get("type"); t != "" {
		return t + "/" + folder
	}
	return folder
}

// detach keeps request values but drops cancellation: a started operation
// runs to completion even if the client goes away.
func detach(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func ensureJobID(id string) string {
	if id == "" {
		return progress.NewJobID()
	}
	return id
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

// writeFailure maps an operation error to a status code.
func writeFailure(w http.ResponseWriter, err error, jobID string) {
	resp := errorResponse{Error: err.Error(), JobID: jobID}
	status := http.StatusInternalServerError

	var be *core.BackendError
	switch {
	case errors.As(err, &be):
		status = http.StatusBadGateway
		resp.Details = be.Result.Details
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, queue.ErrItemNotFound),
		errors.Is(err, progress.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrAlreadyExists),
		errors.Is(err, core.ErrRepositoryBusy),
		errors.Is(err, queue.ErrAlreadyCompleted),
		errors.Is(err, queue.ErrInProgress):
		status = http.StatusConflict
	case errors.Is(err, core.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrBackendUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	writeJSON(w, status, resp)
}

func (s *Server) readJSON(r *http.Request, v any) error {
	limited := io.LimitReader(r.Body, s.opts.MaxRequestBody)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// readOptionalJSON is readJSON for endpoints whose body may be empty.
func (s *Server) readOptionalJSON(r *http.Request, v any) error {
	err := s.readJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
