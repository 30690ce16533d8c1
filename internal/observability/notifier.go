package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Notifier forwards alerts to an external channel.
type Notifier interface {
	Notify(ctx context.Context, alerts []Alert) error
}

type slackNotifier struct {
	webhookURL string
	repo       string
	client     *http.Client
}

// NewSlackNotifier creates a Notifier posting to a Slack incoming webhook.
// repo names the repository in the summary line.
func NewSlackNotifier(webhookURL, repo string) Notifier {
	return &slackNotifier{
		webhookURL: webhookURL,
		repo:       repo,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// slackMessage carries a plain summary for notifications plus one block
// group per alert.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(s string) slackText { return slackText{Type: "mrkdwn", Text: s} }

// Notify posts alerts. An empty slice sends nothing.
func (s *slackNotifier) Notify(ctx context.Context, alerts []Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(s.buildMessage(alerts))
	if err != nil {
		return fmt.Errorf("encoding alert message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %d alerts: %w", len(alerts), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *slackNotifier) buildMessage(alerts []Alert) slackMessage {
	where := "this repository"
	if s.repo != "" {
		where = s.repo
	}
	summary := fmt.Sprintf("ContextWeave: %d %s in %s (%s)", len(alerts), plural(len(alerts), "alert"), where, countBySeverity(alerts))

	msg := slackMessage{Text: summary}
	msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "*" + summary + "*"}})
	for _, alert := range alerts {
		msg.Blocks = append(msg.Blocks, slackBlock{Type: "divider"})
		msg.Blocks = append(msg.Blocks, alertBlocks(alert)...)
	}
	return msg
}

// alertBlocks renders one alert: the message, the issue and role it is
// about, and the command that addresses it.
func alertBlocks(a Alert) []slackBlock {
	subject := "repository"
	if a.Issue > 0 {
		subject = fmt.Sprintf("#%d", a.Issue)
	}
	role := a.Role
	if role == "" {
		role = "-"
	}
	blocks := []slackBlock{
		{Type: "section", Text: &slackText{Type: "mrkdwn", Text: fmt.Sprintf("*[%s]* %s", strings.ToUpper(string(a.Severity)), a.Message)}},
		{Type: "section", Fields: []slackText{
			mrkdwn("*Issue*\n" + subject),
			mrkdwn("*Role*\n" + role),
			mrkdwn("*Condition*\n" + a.Condition),
		}},
	}
	footer := []slackText{mrkdwn(a.TriggeredAt.UTC().Format("2006-01-02 15:04 UTC"))}
	if a.Remediation != "" {
		footer = append([]slackText{mrkdwn("Fix: `" + a.Remediation + "`")}, footer...)
	}
	return append(blocks, slackBlock{Type: "context", Elements: footer})
}

func countBySeverity(alerts []Alert) string {
	counts := map[AlertSeverity]int{}
	for _, a := range alerts {
		counts[a.Severity]++
	}
	var parts []string
	for _, sev := range []AlertSeverity{SeverityHigh, SeverityMedium, SeverityLow} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return strings.Join(parts, ", ")
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
