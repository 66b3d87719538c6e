package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nestor-home/nestor/pkg/planner"
)

// Wire shapes for POST /chat. Field names are a stable external contract.

type chatRequest struct {
	Message              string        `json:"message"`
	ConversationHistory  []historyTurn `json:"conversation_history,omitempty"`
	ExistingAutomationID string        `json:"existing_automation_id,omitempty"`
}

type historyTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message      string        `json:"message"`
	CodeProposal *codeProposal `json:"code_proposal,omitempty"`
}

type codeProposal struct {
	Summary string         `json:"summary"`
	Files   []proposalFile `json:"files"`
}

type proposalFile struct {
	Code     string `json:"code"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
}

// handleChat runs one planning session per request. The request goroutine is
// the session goroutine; client disconnect cancels it through the request
// context. Any terminal FinalResponse is a 200.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	ctx, span := s.obs.Tracer("nestor/server").Start(r.Context(), "chat")
	span.SetAttributes(attribute.Int("history_turns", len(req.ConversationHistory)))
	defer span.End()

	input := planner.UserInput{Message: req.Message}
	for _, turn := range req.ConversationHistory {
		input.History = append(input.History, planner.HistoryTurn{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	if req.ExistingAutomationID != "" {
		input.History = append(input.History, planner.HistoryTurn{
			Role:    "user",
			Content: fmt.Sprintf("This request is about the existing automation %q.", req.ExistingAutomationID),
		})
	}

	response := s.chatter.Run(ctx, input)

	out := chatResponse{Message: response.Message}
	if response.CodeProposal != nil {
		out.CodeProposal = &codeProposal{
			Summary: response.CodeProposal.Summary,
			Files:   toWireFiles(response.CodeProposal.Files),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"engine":   s.health.EngineHealthy(ctx),
		"embedder": s.health.IndexReady(),
	})
}

func (s *Server) handleIndexSync(w http.ResponseWriter, r *http.Request) {
	if err := s.syncer.Sync(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("index sync failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func toWireFiles(files []planner.FileProposal) []proposalFile {
	out := make([]proposalFile, 0, len(files))
	for _, f := range files {
		out = append(out, proposalFile{
			Code:     f.Code,
			Filename: f.Filename,
			Type:     string(f.Kind),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
