package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"portal-duel-service/internal/domain"
	"portal-duel-service/internal/realtime"
	"portal-duel-service/pkg/metrics"
)

type issueChallengeRequest struct {
	Challenger   domain.User `json:"challenger"`
	TargetUserID string      `json:"target_user_id"`
	QuizID       string      `json:"quiz_id"`
	SubjectID    string      `json:"subject_id"`
}

// IssueChallenge relays a DuelChallenge to the target's private channel.
func (s *Server) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req issueChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !s.authorized(r, req.Challenger.ID) {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	msg := domain.DuelChallenge{Challenger: req.Challenger, QuizID: req.QuizID, SubjectID: req.SubjectID}
	if !msg.Valid() || req.TargetUserID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing challenger, target, quiz or subject")
		return
	}
	if err := s.publish(r, realtime.PrivateChannel(req.TargetUserID), domain.EventChallenge, msg); err != nil {
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}
	metrics.ChallengesIssued.Inc()
	writeJSON(w, http.StatusAccepted, map[string]bool{"delivered": true})
}

type acceptChallengeRequest struct {
	Accepter     domain.User `json:"accepter"`
	ChallengerID string      `json:"challenger_id"`
	QuizID       string      `json:"quiz_id"`
	SubjectID    string      `json:"subject_id"`
}

// AcceptChallenge relays a DuelAccepted back to the challenger.
func (s *Server) AcceptChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req acceptChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !s.authorized(r, req.Accepter.ID) {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	msg := domain.DuelAccepted{Accepter: req.Accepter, QuizID: req.QuizID, SubjectID: req.SubjectID}
	if !msg.Valid() || req.ChallengerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing accepter, challenger, quiz or subject")
		return
	}
	if err := s.publish(r, realtime.PrivateChannel(req.ChallengerID), domain.EventAccepted, msg); err != nil {
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}
	metrics.ChallengesAccepted.Inc()
	writeJSON(w, http.StatusAccepted, map[string]bool{"delivered": true})
}

type rejectChallengeRequest struct {
	Decliner     domain.User `json:"decliner"`
	ChallengerID string      `json:"challenger_id"`
}

// RejectChallenge relays a DuelRejected back to the challenger.
func (s *Server) RejectChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req rejectChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !s.authorized(r, req.Decliner.ID) {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	if req.Decliner.ID == "" || req.ChallengerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing decliner or challenger")
		return
	}
	msg := domain.DuelRejected{Decliner: req.Decliner}
	if err := s.publish(r, realtime.PrivateChannel(req.ChallengerID), domain.EventRejected, msg); err != nil {
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"delivered": true})
}

type cancelChallengeRequest struct {
	Challenger   domain.User `json:"challenger"`
	TargetUserID string      `json:"target_user_id"`
}

// CancelChallenge relays the best-effort withdrawal notice to the target.
func (s *Server) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req cancelChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !s.authorized(r, req.Challenger.ID) {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	if req.Challenger.ID == "" || req.TargetUserID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing challenger or target")
		return
	}
	msg := domain.DuelCancelled{Challenger: req.Challenger}
	if err := s.publish(r, realtime.PrivateChannel(req.TargetUserID), domain.EventCancelled, msg); err != nil {
		writeError(w, http.StatusBadGateway, "relay unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"delivered": true})
}

type broadcastStateRequest struct {
	UserID     string               `json:"user_id"`
	OpponentID string               `json:"opponent_id"`
	Type       string               `json:"type"`
	Data       domain.GameStateData `json:"data"`
}

// BroadcastState relays a round answer onto both participants' private
// channels; each client resolves the round from its own stream.
func (s *Server) BroadcastState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req broadcastStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if !s.authorized(r, req.UserID) {
		writeError(w, http.StatusForbidden, "unauthorized")
		return
	}
	msg := domain.DuelGameState{Type: req.Type, Data: req.Data}
	if !msg.Valid() || req.OpponentID == "" {
		writeError(w, http.StatusUnprocessableEntity, "missing type, actor or opponent")
		return
	}
	for _, channel := range []string{realtime.PrivateChannel(req.UserID), realtime.PrivateChannel(req.OpponentID)} {
		if err := s.publish(r, channel, domain.EventGameState, msg); err != nil {
			writeError(w, http.StatusBadGateway, "relay unavailable")
			return
		}
	}
	metrics.StateBroadcasts.Inc()
	writeJSON(w, http.StatusAccepted, map[string]bool{"delivered": true})
}

// QuestionSet serves the ordered questions with options and correctness
// flags for the agreed subject+quiz pair.
func (s *Server) QuestionSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	subjectID := r.URL.Query().Get("subjectId")
	quizID := r.URL.Query().Get("quizId")
	if subjectID == "" || quizID == "" {
		writeError(w, http.StatusBadRequest, "missing subjectId or quizId")
		return
	}
	quiz, err := s.quizzes.GetQuestionSet(r.Context(), subjectID, quizID)
	if err != nil {
		s.log.Warn("question set fetch failed",
			zap.String("subject_id", subjectID), zap.String("quiz_id", quizID), zap.Error(err))
		writeError(w, http.StatusNotFound, "question set not found")
		return
	}
	metrics.QuestionSetRequests.Inc()
	writeJSON(w, http.StatusOK, quiz)
}

func (s *Server) publish(r *http.Request, channel, event string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.broker.Publish(r.Context(), channel, event, payload); err != nil {
		s.log.Error("relay publish failed", zap.String("channel", channel), zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}
