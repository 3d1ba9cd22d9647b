package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSSink publishes alerts to an SNS topic. Best-effort: publish
// errors are logged, never returned, matching spec.md §7's
// "Notification failure: log error; do not retry" policy. Ported from
// original_source/probe/alerter.py's boto3 sns.publish call.
type SNSSink struct {
	client   *sns.Client
	topicARN string
}

// NewSNSSink wraps an SNS client bound to topicARN.
func NewSNSSink(client *sns.Client, topicARN string) *SNSSink {
	return &SNSSink{client: client, topicARN: topicARN}
}

// maxSubjectLen is SNS's hard subject-length limit, also named in
// spec.md §6 ("subject (≤100 chars)").
const maxSubjectLen = 100

func (s *SNSSink) Send(subject, message string) {
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		slog.Error("sns publish failed", "error", err, "topic", s.topicARN)
	}
}

// WebhookSink posts alerts to a Slack-compatible incoming webhook as a
// fenced code block, matching spec.md §6's
// `{"text": "```" + message + "```"}` payload shape.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a sink posting to url with a 10s timeout.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookSink) Send(_, message string) {
	payload, err := json.Marshal(map[string]string{
		"text": "```" + message + "```",
	})
	if err != nil {
		slog.Error("webhook payload marshal failed", "error", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		slog.Error("webhook request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		slog.Error("webhook post failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Error("webhook post returned error status", "status", resp.StatusCode, "url", fmt.Sprintf("%.40s", w.url))
	}
}
