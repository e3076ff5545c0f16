package distribution

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"whale-signal-engine/internal/domain"
)

// SlackConsumer posts signals to a Slack incoming webhook.
type SlackConsumer struct {
	webhookURL string
	http       *http.Client
	minConf    float64
}

// NewSlackConsumer creates a Slack alert consumer. Signals whose live
// confidence is below minConfidence are skipped.
func NewSlackConsumer(webhookURL string, minConfidence float64, client *http.Client) *SlackConsumer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SlackConsumer{webhookURL: webhookURL, http: client, minConf: minConfidence}
}

func (s *SlackConsumer) Name() string { return "slack" }

func (s *SlackConsumer) Deliver(ctx context.Context, d *domain.Delivery) error {
	if d.EffectiveConfidence < s.minConf {
		return nil
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.http, slackMessage(d)); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}

func slackMessage(d *domain.Delivery) *slack.WebhookMessage {
	sig := d.Signal
	color := "good"
	if sig.Direction == domain.DirectionSell {
		color = "danger"
	}

	fields := []slack.AttachmentField{
		{Title: "Direction", Value: strings.ToUpper(string(sig.Direction)), Short: true},
		{Title: "Confidence", Value: fmt.Sprintf("%.2f (raw %.2f)", d.EffectiveConfidence, sig.Confidence), Short: true},
		{Title: "Expires", Value: time.UnixMilli(sig.ExpiresAt).UTC().Format(time.RFC3339), Short: true},
	}
	if p := sig.SourcePattern; p != nil {
		fields = append(fields, slack.AttachmentField{
			Title: "Wallets", Value: fmt.Sprintf("%d", len(p.WalletAddresses)), Short: true,
		})
	}

	return &slack.WebhookMessage{
		Text: fmt.Sprintf("%s signal on %s", sig.PatternType, sig.TokenAddress),
		Attachments: []slack.Attachment{{
			Color:  color,
			Title:  sig.SignalID,
			Fields: fields,
		}},
	}
}
