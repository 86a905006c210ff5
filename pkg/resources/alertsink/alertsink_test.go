package alertsink

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/slack-go/slack"
)

type mockAPI struct {
	postFunc func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

func (m *mockAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	return m.postFunc(ctx, channelID, options...)
}

func TestPostAlertIncludesResourceAndUtilization(t *testing.T) {
	var gotChannel string
	mock := &mockAPI{postFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
		gotChannel = channelID
		return "ts", "channel", nil
	}}

	sink := NewWithAPI(mock, "C123")
	if err := sink.PostAlert(context.Background(), "db-primary", "tenantA", 0.97); err != nil {
		t.Fatalf("PostAlert: %v", err)
	}
	if gotChannel != "C123" {
		t.Errorf("channel = %s, want C123", gotChannel)
	}
}

func TestPostAlertPropagatesError(t *testing.T) {
	mock := &mockAPI{postFunc: func(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
		return "", "", errors.New("rate limited")
	}}

	sink := NewWithAPI(mock, "C123")
	err := sink.PostAlert(context.Background(), "db-primary", "", 0.99)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected rate limited error to propagate, got %v", err)
	}
}
