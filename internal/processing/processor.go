// Package processing hosts the transaction-processing callbacks invoked when
// a booking fires. The processing itself lives in another service; this
// package only hands the business day over.
package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookingsched/internal/calendar"
	logx "bookingsched/pkg/logx"
)

// Request is the JSON body posted to the processing service.
type Request struct {
	Date string `json:"date"`
}

// HTTP posts the business day to a processing endpoint and treats any non-2xx
// status as a failure.
type HTTP struct {
	url     string
	client  *http.Client
	timeout time.Duration
	log     logx.Logger
}

func NewHTTP(url string, timeout time.Duration, client *http.Client, log logx.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTP{
		url:     strings.TrimSpace(url),
		client:  client,
		timeout: timeout,
		log:     log.With(logx.String("comp", "processing")),
	}
}

func (h *HTTP) Process(ctx context.Context, d calendar.Date) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	body, err := json.Marshal(Request{Date: d.String()})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("process %s: %w", d, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("process %s: %s: %s", d, resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	h.log.Info("transactions processed", logx.String("date", d.String()), logx.Duration("took", time.Since(start)))
	return nil
}

// Log only records that processing was requested. It is the default when no
// processing endpoint is configured.
type Log struct{ Log logx.Logger }

func (l Log) Process(_ context.Context, d calendar.Date) error {
	l.Log.Info("processing transactions", logx.String("date", d.String()))
	return nil
}
