package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"portal-duel-service/internal/domain"
)

// HTTPAuthorizer presents a bearer credential to the relay's channel
// authorization endpoint. A rejected exchange is fatal to that subscription;
// there is no automatic retry.
type HTTPAuthorizer struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewHTTPAuthorizer(endpoint, token string, client *http.Client) *HTTPAuthorizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAuthorizer{endpoint: endpoint, token: token, client: client}
}

type channelAuthRequest struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, userID, channel string) error {
	body, err := json.Marshal(channelAuthRequest{UserID: userID, Channel: channel})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("channel auth exchange: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusForbidden, http.StatusUnauthorized:
		return domain.ErrChannelUnauthorized
	default:
		return fmt.Errorf("channel auth: unexpected status %d", resp.StatusCode)
	}
}
