package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"exam_dispatch_engine/internal/domain/notification"
)

// GatewayConfig holds the messaging gateway settings.
type GatewayConfig struct {
	URL    string
	Token  string
	Sender string // registered sender number
}

// HTTPMessageSender posts text messages to a WhatsApp style REST gateway.
type HTTPMessageSender struct {
	cfg    GatewayConfig
	client *http.Client
}

func NewHTTPMessageSender(cfg GatewayConfig, timeout time.Duration) *HTTPMessageSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMessageSender{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type gatewayRequest struct {
	MessageType string `json:"messageType"`
	Token       string `json:"token"`
	From        string `json:"from"`
	To          string `json:"to"`
	Text        string `json:"text"`
}

type gatewayResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (s *HTTPMessageSender) SendText(ctx context.Context, to string, text string) (notification.Receipt, error) {
	body, err := json.Marshal(gatewayRequest{
		MessageType: "text",
		Token:       s.cfg.Token,
		From:        s.cfg.Sender,
		To:          to,
		Text:        text,
	})
	if err != nil {
		return notification.Receipt{}, fmt.Errorf("failed to marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return notification.Receipt{}, fmt.Errorf("failed to create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return notification.Receipt{}, fmt.Errorf("gateway http error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return notification.Receipt{}, fmt.Errorf("gateway rejected message | Status=%d | Response=%s", resp.StatusCode, string(respBody))
	}

	var parsed gatewayResponse
	if len(respBody) > 0 && json.Unmarshal(respBody, &parsed) == nil {
		if parsed.Status != "" && parsed.Status != "success" && parsed.Status != "queued" && parsed.Status != "sent" {
			return notification.Receipt{}, fmt.Errorf("gateway reported status %q", parsed.Status)
		}
		if parsed.MessageID != "" {
			return notification.Receipt{ProviderRef: parsed.MessageID}, nil
		}
		return notification.Receipt{ProviderRef: parsed.ID}, nil
	}
	return notification.Receipt{}, nil
}
