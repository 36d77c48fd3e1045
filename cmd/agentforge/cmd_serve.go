package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agentforge/internal/logging"
	"agentforge/internal/persist"
	"agentforge/internal/store"
	"agentforge/internal/types"
	"agentforge/internal/workflow"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

var serveListen string

// serveCmd runs the HTTP trigger endpoint
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept build triggers over HTTP",
	Long: `Starts the trigger endpoint. Runs are dispatched asynchronously; clients
observe completion by polling the project's messages.

  POST   /events                  {"value": "...", "projectId": "..."} -> 202 {"runId": "..."}
  POST   /projects                {"value": "...", "userId": "..."}    -> 202 {"project": {...}, "runId": "..."}
  GET    /projects?userId=...     list projects, newest first
  POST   /projects/{id}/messages  {"value": "..."}                    -> 202 {"messageId": "...", "runId": "..."}
  GET    /projects/{id}/messages  list messages with fragments, newest first
  DELETE /messages/{id}           delete a message`,
	RunE: serve,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default: server.listen)")
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := wireApp(ctx, cfg, ws)
	if err != nil {
		return err
	}
	defer a.close()

	// Runs outlive the request that triggered them but stop on shutdown.
	d := workflow.NewDispatcher(ctx, a.runner, cfg.Workflow.MaxConcurrentRuns)
	d.OnComplete = func(runID string, o types.Outcome) {
		logger.Info("Run finished", zap.String("run", runID), zap.Bool("success", o.Success), zap.String("title", o.Title))
	}

	addr := serveListen
	if addr == "" {
		addr = cfg.Server.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}

	srv := &http.Server{
		Handler:           newHandler(a.store, a.gateway, d, cfg.Server.DefaultUserID),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	logger.Info("Serving triggers", zap.String("addr", ln.Addr().String()))
	logging.API("Listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Shutdown", zap.Error(err))
	}
	logger.Info("Waiting for in-flight runs")
	return d.Wait()
}

// triggerStore is the read/write surface the handlers need.
type triggerStore interface {
	ListProjects(ctx context.Context, userID string) ([]types.Project, error)
	GetProject(ctx context.Context, id string) (types.Project, error)
	ListMessages(ctx context.Context, projectID string) ([]types.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// dispatcher schedules runs.
type dispatcher interface {
	Dispatch(req types.WorkflowRequest) string
}

type handler struct {
	store         triggerStore
	gateway       *persist.Gateway
	dispatch      dispatcher
	defaultUserID string
}

func newHandler(st triggerStore, gw *persist.Gateway, d dispatcher, defaultUserID string) http.Handler {
	h := &handler{store: st, gateway: gw, dispatch: d, defaultUserID: defaultUserID}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", h.handleEvent)
	mux.HandleFunc("POST /projects", h.handleCreateProject)
	mux.HandleFunc("GET /projects", h.handleListProjects)
	mux.HandleFunc("POST /projects/{id}/messages", h.handleCreateMessage)
	mux.HandleFunc("GET /projects/{id}/messages", h.handleListMessages)
	mux.HandleFunc("DELETE /messages/{id}", h.handleDeleteMessage)
	return mux
}

// maxBodyBytes bounds trigger request bodies.
const maxBodyBytes = 1 << 20

// decodeBody decodes a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.APIWarn("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeStatus maps a store error to a status code and a message safe to show.
func storeStatus(err error) (int, string) {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "not found"
	}
	logging.APIWarn("store error: %v", err)
	return http.StatusInternalServerError, "internal error"
}

func (h *handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req types.WorkflowRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req = req.Normalized()
	if req.Prompt == "" || req.ProjectID == "" {
		writeError(w, http.StatusBadRequest, "value and projectId are required")
		return
	}
	if _, err := h.store.GetProject(r.Context(), req.ProjectID); err != nil {
		writeError(w, storeStatus(err))
		return
	}

	runID := h.dispatch.Dispatch(req)
	logging.API("Accepted event for project %s as run %s", req.ProjectID, runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

type createProjectRequest struct {
	Value  string `json:"value"`
	UserID string `json:"userId"`
}

func (h *handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body createProjectRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	prompt := strings.TrimSpace(body.Value)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	p, err := h.gateway.CreateProject(r.Context(), ownerOr(body.UserID, h.defaultUserID), prompt)
	if err != nil {
		writeError(w, storeStatus(err))
		return
	}

	runID := h.dispatch.Dispatch(types.WorkflowRequest{Prompt: prompt, ProjectID: p.ID})
	writeJSON(w, http.StatusAccepted, map[string]any{"project": p, "runId": runID})
}

type createMessageRequest struct {
	Value string `json:"value"`
}

// handleCreateMessage records a follow-up prompt on an existing project and
// starts a run for it.
func (h *handler) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	var body createMessageRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	prompt := strings.TrimSpace(body.Value)
	if prompt == "" {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if _, err := h.store.GetProject(r.Context(), projectID); err != nil {
		writeError(w, storeStatus(err))
		return
	}

	msgID, err := h.gateway.SaveUserMessage(r.Context(), projectID, prompt)
	if err != nil {
		writeError(w, storeStatus(err))
		return
	}
	runID := h.dispatch.Dispatch(types.WorkflowRequest{Prompt: prompt, ProjectID: projectID})
	logging.API("Accepted message %s for project %s as run %s", msgID, projectID, runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"messageId": msgID, "runId": runID})
}

func (h *handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects(r.Context(), ownerOr(r.URL.Query().Get("userId"), h.defaultUserID))
	if err != nil {
		writeError(w, storeStatus(err))
		return
	}
	if projects == nil {
		projects = []types.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, storeStatus(err))
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteMessage(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, storeStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
