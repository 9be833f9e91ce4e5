package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	logx "bookingsched/pkg/logx"
)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// HTTPSender posts messages to an email service endpoint.
type HTTPSender struct {
	url    string
	client *http.Client
}

func NewHTTPSender(url string, client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{url: strings.TrimSpace(url), client: client}
}

func (h *HTTPSender) Send(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("email service: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct{ Log logx.Logger }

func (l LogSender) Send(_ context.Context, m Message) error {
	l.Log.Info("email (log only)",
		logx.String("recipient", m.Recipient),
		logx.String("subject", m.Subject),
		logx.String("body", m.Body),
	)
	return nil
}
