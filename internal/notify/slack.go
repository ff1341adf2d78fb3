package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Notifier envia alertas operacionais.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

type Alert struct {
	Title    string
	Text     string
	Severity string
	Fields   map[string]string
}

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SlackNotifier publica alertas num incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier devolve nil quando não há webhook configurado.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackNotifier) Notify(ctx context.Context, alert Alert) error {
	if s == nil || s.webhookURL == "" {
		return errors.New("slack notifier não configurado")
	}

	body, err := json.Marshal(map[string]any{"text": formatSlackMessage(alert)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack respondeu HTTP %d", resp.StatusCode)
	}
	return nil
}

func formatSlackMessage(alert Alert) string {
	emoji := ":information_source:"
	switch alert.Severity {
	case SeverityWarning:
		emoji = ":warning:"
	case SeverityCritical:
		emoji = ":rotating_light:"
	}

	var b strings.Builder
	b.WriteString(emoji)
	if alert.Title != "" {
		b.WriteString(" *" + alert.Title + "*\n")
	} else {
		b.WriteString(" ")
	}
	b.WriteString(alert.Text)

	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n• " + k + ": `" + alert.Fields[k] + "`")
	}
	return b.String()
}
