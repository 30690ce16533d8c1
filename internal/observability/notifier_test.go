package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSlackNotifier_NoAlerts(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, "acme/app")
	if err := n.Notify(context.Background(), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if called {
		t.Fatal("expected no HTTP request for empty alerts")
	}
}

func TestSlackNotifier_SendsAlerts(t *testing.T) {
	var body []byte
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	alerts := []Alert{
		{ID: "failing-5", Condition: "workflow_failing", Severity: SeverityHigh, Issue: 5, Role: "engineer",
			Message: "issue #5 failed its last 3 workflow runs", Remediation: "cw run 5 --dry-run", TriggeredAt: at(0)},
		{ID: "active-count", Condition: "too_many_active", Severity: SeverityLow,
			Message: "12 subagents are active", Remediation: "cw subagent list", TriggeredAt: at(0)},
	}
	if err := NewSlackNotifier(srv.URL, "acme/app").Notify(context.Background(), alerts); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("content type = %q", contentType)
	}

	var msg slackMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if msg.Text != "ContextWeave: 2 alerts in acme/app (1 high, 1 low)" {
		t.Errorf("summary = %q", msg.Text)
	}
	// summary, then divider + message + fields + context per alert
	if len(msg.Blocks) != 9 {
		t.Fatalf("expected 9 blocks, got %d", len(msg.Blocks))
	}
	if !strings.Contains(msg.Blocks[2].Text.Text, "*[HIGH]* issue #5") {
		t.Errorf("first alert = %q", msg.Blocks[2].Text.Text)
	}
	fields := msg.Blocks[3].Fields
	if len(fields) != 3 || fields[0].Text != "*Issue*\n#5" || fields[1].Text != "*Role*\nengineer" {
		t.Errorf("fields = %+v", fields)
	}
	footer := msg.Blocks[4]
	if footer.Type != "context" || len(footer.Elements) != 2 || footer.Elements[0].Text != "Fix: `cw run 5 --dry-run`" {
		t.Errorf("footer = %+v", footer)
	}

	repoFields := msg.Blocks[7].Fields
	if repoFields[0].Text != "*Issue*\nrepository" || repoFields[1].Text != "*Role*\n-" {
		t.Errorf("repository alert fields = %+v", repoFields)
	}
}

func TestSlackNotifier_OmitsMissingRemediation(t *testing.T) {
	msg := (&slackNotifier{}).buildMessage([]Alert{{ID: "x", Severity: SeverityMedium, Issue: 2, Message: "m", TriggeredAt: at(0)}})
	if msg.Text != "ContextWeave: 1 alert in this repository (1 medium)" {
		t.Errorf("summary = %q", msg.Text)
	}
	footer := msg.Blocks[len(msg.Blocks)-1]
	if len(footer.Elements) != 1 || strings.HasPrefix(footer.Elements[0].Text, "Fix:") {
		t.Errorf("footer = %+v", footer)
	}
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewSlackNotifier(srv.URL, "").Notify(context.Background(), []Alert{{ID: "x", Severity: SeverityLow}})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v, want status 403", err)
	}
}
