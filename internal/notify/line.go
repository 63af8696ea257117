// Package notify sends patient-facing reminder messages and staff alerts
// through the LINE Messaging API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const pushTimeout = 8 * time.Second

// minTargetIDLen weeds out obviously malformed LINE user and group IDs before
// spending a request on them.
const minTargetIDLen = 10

// Pusher delivers one text message to a LINE user or group.
type Pusher interface {
	Push(ctx context.Context, targetID, text string) error
}

type LineClient struct {
	apiURL string
	token  string
	http   *http.Client
	logger *zap.SugaredLogger
}

func NewLineClient(apiURL, channelToken string, logger *zap.SugaredLogger) *LineClient {
	return &LineClient{
		apiURL: apiURL,
		token:  channelToken,
		http:   &http.Client{Timeout: pushTimeout},
		logger: logger,
	}
}

type pushMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []pushMessage `json:"messages"`
}

func (c *LineClient) Push(ctx context.Context, targetID, text string) error {
	if text == "" {
		return errors.New("message must not be empty")
	}
	if c.token == "" {
		return errors.New("LINE_CHANNEL_ACCESS_TOKEN not configured")
	}
	if len(targetID) < minTargetIDLen {
		return fmt.Errorf("invalid target id %q", targetID)
	}

	body, err := json.Marshal(pushRequest{
		To:       targetID,
		Messages: []pushMessage{{Type: "text", Text: text}},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("LINE push rejected: %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	c.logger.Infow("Push notification sent", "target_id", targetID)
	return nil
}
