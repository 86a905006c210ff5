// Package alertsink backs pkg/resources.AlertSink by posting a formatted
// message to a Slack channel.
package alertsink

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/agentmesh/awcp/pkg/awcperrors"
	"github.com/agentmesh/awcp/pkg/observability"
	"github.com/agentmesh/awcp/pkg/resilience"
	"github.com/agentmesh/awcp/pkg/resources"
)

// API is the subset of the Slack client used here, narrowed for testing.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Sink implements resources.AlertSink over a real or fake Slack client,
// guarding every call with a circuit breaker.
type Sink struct {
	client  API
	channel string
	cb      *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

// New wraps a Slack bot token and the channel ID critical alerts post to.
func New(token, channel string) *Sink {
	return newSink(slack.New(token), channel)
}

// NewWithAPI wraps an already-constructed Slack API, for tests.
func NewWithAPI(client API, channel string) *Sink {
	return newSink(client, channel)
}

func newSink(client API, channel string) *Sink {
	return &Sink{
		client:  client,
		channel: channel,
		cb:      resilience.NewCircuitBreaker("slack", resilience.CircuitBreakerConfig{}, observability.NewNoopLogger(), observability.NewNoopMetricsClient()),
		limiter: resilience.NewRateLimiter("slack", resilience.RateLimiterConfig{Limit: 60, Period: resilience.DefaultPeriod}),
	}
}

var _ resources.AlertSink = (*Sink)(nil)

// PostAlert posts a critical-utilization notice to the configured channel.
func (s *Sink) PostAlert(ctx context.Context, resourceID, clientID string, utilization float64) error {
	if !s.limiter.Allow() {
		return awcperrors.New(awcperrors.Unavailable, "rate limit exceeded for slack")
	}

	text := fmt.Sprintf(":rotating_light: resource *%s* at %.1f%% utilization", resourceID, utilization*100)
	if clientID != "" {
		text += fmt.Sprintf(" (client `%s`)", clientID)
	}

	_, err := s.cb.Execute(ctx, func() (interface{}, error) {
		_, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
		return nil, err
	})
	return err
}
