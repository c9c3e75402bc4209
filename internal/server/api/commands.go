package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/fewshot/internal/session"
)

// Poster accepts commands for the frame loop.
type Poster interface {
	Post(cmd session.Command)
}

// CommandHandler handles POST /api/commands.
type CommandHandler struct {
	poster     Poster
	maxClasses int
}

// NewCommandHandler creates a CommandHandler that forwards to p. Classes at or
// above maxClasses are rejected when maxClasses is positive.
func NewCommandHandler(p Poster, maxClasses int) *CommandHandler {
	return &CommandHandler{poster: p, maxClasses: maxClasses}
}

type commandRequest struct {
	Command string `json:"command"`
	Class   *int   `json:"class,omitempty"`
}

type commandResponse struct {
	Accepted string `json:"accepted"`
}

// ServeHTTP queues the command. Whether it takes effect depends on the
// session state at the next frame; the response only confirms it was queued.
func (h *CommandHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "Command is required")
		return
	}

	class := -1
	if req.Class != nil {
		class = *req.Class
	}
	cmd, err := session.ParseCommand(req.Command, class)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cmd.IsNone() {
		writeError(w, http.StatusBadRequest, "Nothing to do")
		return
	}
	if h.maxClasses > 0 {
		if err := cmd.Validate(h.maxClasses); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	h.poster.Post(cmd)
	writeJSON(w, http.StatusAccepted, commandResponse{Accepted: cmd.String()})
}
