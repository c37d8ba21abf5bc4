// Package http is the relay's server boundary: the websocket bridge into the
// broker, the channel authorization endpoint, and the duel REST endpoints the
// portal clients consume.
package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"portal-duel-service/internal/duel"
	"portal-duel-service/internal/realtime"
	"portal-duel-service/pkg/metrics"
)

// TokenStore validates per-user bearer credentials.
type TokenStore interface {
	Validate(userID, token string) bool
}

// StaticTokens is a fixed credential table, loaded from config.
type StaticTokens map[string]string

func (t StaticTokens) Validate(userID, token string) bool {
	if len(t) == 0 {
		// Dev mode: no credential table configured.
		return token != ""
	}
	want, ok := t[strings.TrimSpace(userID)]
	return ok && want == token
}

// Server hosts the relay boundary.
type Server struct {
	broker  realtime.Broker
	quizzes duel.QuizRepository
	tokens  TokenStore
	log     *zap.Logger
}

func NewServer(broker realtime.Broker, quizzes duel.QuizRepository, tokens TokenStore, log *zap.Logger) *Server {
	return &Server{broker: broker, quizzes: quizzes, tokens: tokens, log: log}
}

// Routes wires every endpoint onto a mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/auth/channel", s.AuthorizeChannel)
	mux.HandleFunc("/duel/challenge", s.IssueChallenge)
	mux.HandleFunc("/duel/accept", s.AcceptChallenge)
	mux.HandleFunc("/duel/reject", s.RejectChallenge)
	mux.HandleFunc("/duel/cancel", s.CancelChallenge)
	mux.HandleFunc("/duel/state", s.BroadcastState)
	mux.HandleFunc("/duel/questions", s.QuestionSet)
	return mux
}

// bearer pulls the credential from an Authorization header.
func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (s *Server) authorized(r *http.Request, userID string) bool {
	return s.tokens.Validate(userID, bearer(r))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Message: msg})
}

type channelAuthRequest struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
}

// AuthorizeChannel grants or rejects a private channel subscription. The
// client presents its bearer credential; a user may only subscribe to their
// own private channel.
func (s *Server) AuthorizeChannel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req channelAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Channel == "" {
		writeError(w, http.StatusBadRequest, "missing user_id or channel")
		return
	}
	if !s.authorized(r, req.UserID) || req.Channel != realtime.PrivateChannel(req.UserID) {
		metrics.AuthRejections.Inc()
		s.log.Warn("channel authorization rejected",
			zap.String("user_id", req.UserID), zap.String("channel", req.Channel))
		writeError(w, http.StatusForbidden, "channel subscription unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": true})
}
