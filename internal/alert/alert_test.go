package alert

import (
	"net/http"
	"testing"
)

type mockHTTPClient struct {
	statusCode int
	err        error
	lastReq    *http.Request
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       http.NoBody,
	}, nil
}

func TestNewManager(t *testing.T) {
	m := NewManager(true, "https://hooks.slack.com/test")
	if m == nil {
		t.Fatal("expected non-nil manager")
	}
	if !m.enabled {
		t.Error("expected enabled to be true")
	}
	if m.slackWebhook != "https://hooks.slack.com/test" {
		t.Error("expected slack webhook to be set")
	}
}

func TestSendStreamRebuildAlert_Disabled(t *testing.T) {
	m := NewManager(false, "https://hooks.slack.com/test")
	err := m.SendStreamRebuildAlert("walfeed_main", 3, "connection reset")
	if err != nil {
		t.Errorf("expected nil error when disabled, got: %v", err)
	}
}

func TestSendStreamRebuildAlert_EmptyWebhook(t *testing.T) {
	m := NewManager(true, "")
	err := m.SendStreamRebuildAlert("walfeed_main", 3, "connection reset")
	if err != nil {
		t.Errorf("expected nil error with empty webhook, got: %v", err)
	}
}

func TestSendStreamRebuildAlert_Success(t *testing.T) {
	mock := &mockHTTPClient{statusCode: http.StatusOK}
	m := NewManagerWithClient(true, "https://hooks.slack.com/test", mock)

	err := m.SendStreamRebuildAlert("walfeed_main", 3, "connection reset")
	if err != nil {
		t.Errorf("expected nil error, got: %v", err)
	}
	if mock.lastReq == nil {
		t.Fatal("expected request to be made")
	}
	if mock.lastReq.Method != http.MethodPost {
		t.Errorf("expected POST method, got: %s", mock.lastReq.Method)
	}
	if mock.lastReq.Header.Get("Content-Type") != "application/json" {
		t.Error("expected Content-Type to be application/json")
	}
}

func TestSendStreamRebuildAlert_SlackError(t *testing.T) {
	mock := &mockHTTPClient{statusCode: http.StatusInternalServerError}
	m := NewManagerWithClient(true, "https://hooks.slack.com/test", mock)

	err := m.SendStreamRebuildAlert("walfeed_main", 3, "connection reset")
	if err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestSendSystemAlert_Severities(t *testing.T) {
	for _, severity := range []string{"danger", "warning", "good"} {
		mock := &mockHTTPClient{statusCode: http.StatusOK}
		m := NewManagerWithClient(true, "https://hooks.slack.com/test", mock)

		if err := m.SendSystemAlert("Walfeed stopped", "ingester shut down", severity); err != nil {
			t.Errorf("severity %s: expected nil error, got: %v", severity, err)
		}
		if mock.lastReq == nil {
			t.Errorf("severity %s: expected request to be made", severity)
		}
	}
}
