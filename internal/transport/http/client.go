package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"portal-duel-service/internal/domain"
)

// RelayClient consumes the duel REST endpoints on behalf of one portal user.
// It implements both duel.Sender and duel.QuizRepository, so a remote client
// wires it everywhere the in-process broker sender would go.
type RelayClient struct {
	baseURL string
	self    domain.User
	token   string
	client  *http.Client
}

func NewRelayClient(baseURL string, self domain.User, token string, client *http.Client) *RelayClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RelayClient{baseURL: baseURL, self: self, token: token, client: client}
}

func (c *RelayClient) SendChallenge(ctx context.Context, targetID string, msg domain.DuelChallenge) error {
	return c.post(ctx, "/duel/challenge", issueChallengeRequest{
		Challenger:   msg.Challenger,
		TargetUserID: targetID,
		QuizID:       msg.QuizID,
		SubjectID:    msg.SubjectID,
	})
}

func (c *RelayClient) SendAccept(ctx context.Context, challengerID string, msg domain.DuelAccepted) error {
	return c.post(ctx, "/duel/accept", acceptChallengeRequest{
		Accepter:     msg.Accepter,
		ChallengerID: challengerID,
		QuizID:       msg.QuizID,
		SubjectID:    msg.SubjectID,
	})
}

func (c *RelayClient) SendReject(ctx context.Context, challengerID string, msg domain.DuelRejected) error {
	return c.post(ctx, "/duel/reject", rejectChallengeRequest{
		Decliner:     msg.Decliner,
		ChallengerID: challengerID,
	})
}

func (c *RelayClient) SendCancel(ctx context.Context, targetID string, msg domain.DuelCancelled) error {
	return c.post(ctx, "/duel/cancel", cancelChallengeRequest{
		Challenger:   msg.Challenger,
		TargetUserID: targetID,
	})
}

func (c *RelayClient) BroadcastState(ctx context.Context, selfID, opponentID string, msg domain.DuelGameState) error {
	return c.post(ctx, "/duel/state", broadcastStateRequest{
		UserID:     selfID,
		OpponentID: opponentID,
		Type:       msg.Type,
		Data:       msg.Data,
	})
}

// GetQuestionSet fetches the agreed question set from the relay.
func (c *RelayClient) GetQuestionSet(ctx context.Context, subjectID, quizID string) (domain.Quiz, error) {
	endpoint := fmt.Sprintf("%s/duel/questions?subjectId=%s&quizId=%s",
		c.baseURL, url.QueryEscape(subjectID), url.QueryEscape(quizID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Quiz{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("fetch question set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Quiz{}, fmt.Errorf("fetch question set: unexpected status %d", resp.StatusCode)
	}
	var quiz domain.Quiz
	if err := json.NewDecoder(resp.Body).Decode(&quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("decode question set: %w", err)
	}
	return quiz, nil
}

func (c *RelayClient) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay send %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay send %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
