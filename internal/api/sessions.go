package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/okulab/termgate/internal/proc"
	"github.com/okulab/termgate/internal/terminal"
)

// SessionHandler handles session lifecycle and I/O endpoints.
type SessionHandler struct {
	*Handler
	commandWait time.Duration
	inputSettle time.Duration
}

// NewSessionHandler creates a session handler. commandWait is how long a
// command endpoint lingers for output after sending; inputSettle is the pause
// after raw input before the buffer is drained.
func NewSessionHandler(base *Handler, commandWait, inputSettle time.Duration) *SessionHandler {
	if commandWait <= 0 {
		commandWait = 500 * time.Millisecond
	}
	if inputSettle <= 0 {
		inputSettle = 50 * time.Millisecond
	}
	return &SessionHandler{Handler: base, commandWait: commandWait, inputSettle: inputSettle}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DestroySession)
			r.Post("/command", h.SendCommand)
			r.Post("/input", h.SendInput)
			r.Get("/output", h.ReadOutput)
			r.Post("/resize", h.Resize)
			r.Get("/history", h.History)
		})
	})
}

type createSessionRequest struct {
	Name         string `json:"name,omitempty"`
	Distro       string `json:"distro,omitempty"`
	ShellCommand string `json:"shell_command,omitempty"`
	Cols         uint16 `json:"cols,omitempty"`
	Rows         uint16 `json:"rows,omitempty"`
}

// CreateSession spawns a new session. The shell resolves in order of
// precedence: explicit command, named distro, configured default.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		// An empty body means all defaults.
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	spec := proc.ShellSpec{}
	switch {
	case req.ShellCommand != "":
		spec = proc.ExplicitCommand(strings.Fields(req.ShellCommand))
	case req.Distro != "":
		spec = proc.NamedDistro(req.Distro)
	}

	sess, err := h.mgr.Create(r.Context(), terminal.CreateRequest{
		Name: req.Name,
		Spec: spec,
		Cols: req.Cols,
		Rows: req.Rows,
	})
	if err != nil {
		slog.Error("Failed to create session", "error", err, "name", req.Name)
		body := map[string]interface{}{"error": err.Error()}
		if sess != nil {
			body["session"] = sess.Info()
		}
		JSON(w, http.StatusInternalServerError, body)
		return
	}

	JSON(w, http.StatusCreated, sess.Info())
}

// ListSessions returns summaries of all live sessions.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": h.mgr.List()})
}

// GetSession returns one session's summary.
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolve(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, sess.Info())
}

// DestroySession terminates a session and removes it from the registry.
func (h *SessionHandler) DestroySession(w http.ResponseWriter, r *http.Request) {
	idOrName := chi.URLParam(r, "id")
	sess, err := h.mgr.Get(idOrName)
	if err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	id := sess.ID()
	if err := h.mgr.Destroy(r.Context(), idOrName); err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "killed", "id": id})
}

type commandRequest struct {
	Command string `json:"command"`
}

// SendCommand sends a line of input and returns the output produced within
// the wait window. Output accumulated before the command is discarded so the
// response reflects only this command.
func (h *SessionHandler) SendCommand(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess.ReadOutput()

	if err := sess.SendLine(req.Command); err != nil {
		h.writeSessionError(w, err)
		return
	}

	select {
	case <-r.Context().Done():
	case <-sess.Done():
	case <-time.After(h.commandWait):
	}

	output, truncated := sess.ReadOutput()
	JSON(w, http.StatusOK, map[string]interface{}{
		"output":    output,
		"truncated": truncated,
		"state":     sess.State(),
	})
}

type inputRequest struct {
	Text string `json:"text"`
}

// SendInput writes keystrokes verbatim, with no terminator appended. Use it
// for interactive prompts and control characters.
func (h *SessionHandler) SendInput(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := sess.SendRaw(req.Text); err != nil {
		h.writeSessionError(w, err)
		return
	}

	select {
	case <-r.Context().Done():
	case <-time.After(h.inputSettle):
	}

	output, truncated := sess.ReadOutput()
	JSON(w, http.StatusOK, map[string]interface{}{"output": output, "truncated": truncated})
}

// ReadOutput drains pending output. An optional timeout query parameter (in
// seconds, capped at 10) makes the call linger until output arrives.
func (h *SessionHandler) ReadOutput(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolve(w, r)
	if !ok {
		return
	}

	timeout := parseTimeoutSeconds(r.URL.Query().Get("timeout"))
	output, truncated := sess.ReadOutput()

	writeOutput := func() {
		JSON(w, http.StatusOK, map[string]interface{}{
			"output":    output,
			"truncated": truncated,
			"state":     sess.State(),
		})
	}

	if output == "" && timeout > 0 {
		deadline := time.Now().Add(timeout)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for output == "" && time.Now().Before(deadline) {
			select {
			case <-r.Context().Done():
				writeOutput()
				return
			case <-sess.Done():
				var tr bool
				output, tr = sess.ReadOutput()
				truncated = truncated || tr
				writeOutput()
				return
			case <-ticker.C:
				var tr bool
				output, tr = sess.ReadOutput()
				truncated = truncated || tr
			}
		}
	}

	writeOutput()
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Resize changes the terminal geometry.
func (h *SessionHandler) Resize(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolve(w, r)
	if !ok {
		return
	}

	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cols == 0 || req.Rows == 0 {
		Error(w, http.StatusBadRequest, "cols and rows must be positive")
		return
	}

	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		h.writeSessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"status": "resized", "cols": req.Cols, "rows": req.Rows})
}

// History returns the commands sent to a session. Live sessions answer from
// memory; for sessions already gone from the registry the store is consulted.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	idOrName := chi.URLParam(r, "id")

	if sess, err := h.mgr.Get(idOrName); err == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"history": sess.History()})
		return
	}

	if h.repo != nil {
		entries, err := h.repo.CommandHistory(r.Context(), idOrName)
		if err == nil && len(entries) > 0 {
			JSON(w, http.StatusOK, map[string]interface{}{"history": entries})
			return
		}
		if err != nil {
			slog.Warn("Failed to load command history", "error", err, "session_id", idOrName)
		}
	}

	Error(w, http.StatusNotFound, "session not found")
}

func (h *SessionHandler) resolve(w http.ResponseWriter, r *http.Request) (*terminal.Session, bool) {
	sess, err := h.mgr.Get(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, terminal.ErrSessionNotRunning):
		Error(w, http.StatusBadRequest, "session is not running")
	case errors.Is(err, terminal.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

func parseTimeoutSeconds(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	if secs > 10 {
		secs = 10
	}
	return time.Duration(secs * float64(time.Second))
}
