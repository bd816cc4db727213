package notifications

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/toolmesh/toolmesh/pkg/resilience"
)

type fakeHandler struct {
	channelType ChannelType
	fail        bool

	mu     sync.Mutex
	sent   []Message
	tested int
}

func (f *fakeHandler) Send(ctx context.Context, channel Channel, message Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("delivery failed")
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeHandler) Test(ctx context.Context, channel Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tested++
	if f.fail {
		return fmt.Errorf("test failed")
	}
	return nil
}

func (f *fakeHandler) GetChannelType() ChannelType {
	return f.channelType
}

func (f *fakeHandler) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestService_Notify_FansOut(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service := NewService(logger)

	slack := &fakeHandler{channelType: ChannelTypeSlack}
	teams := &fakeHandler{channelType: ChannelTypeTeams}
	service.RegisterChannelHandler(slack)
	service.RegisterChannelHandler(teams)
	service.AddChannel(Channel{Type: ChannelTypeSlack, Name: "slack"})
	service.AddChannel(Channel{Type: ChannelTypeTeams, Name: "teams"})

	err := service.Notify(context.Background(), Message{
		Subject:  "Circuit Breaker OPEN",
		Severity: "ERROR",
	})

	require.NoError(t, err)
	assert.Len(t, slack.messages(), 1)
	assert.Len(t, teams.messages(), 1)
}

func TestService_Notify_PartialFailureStillDelivers(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service := NewService(logger)

	slack := &fakeHandler{channelType: ChannelTypeSlack}
	teams := &fakeHandler{channelType: ChannelTypeTeams, fail: true}
	service.RegisterChannelHandler(slack)
	service.RegisterChannelHandler(teams)
	service.AddChannel(Channel{Type: ChannelTypeSlack, Name: "slack"})
	service.AddChannel(Channel{Type: ChannelTypeTeams, Name: "teams"})

	err := service.Notify(context.Background(), Message{Subject: "Alert"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to send to 1 channels")
	assert.Len(t, slack.messages(), 1)
}

func TestService_Notify_MissingHandler(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service := NewService(logger)
	service.AddChannel(Channel{Type: ChannelTypeSlack, Name: "slack"})

	err := service.Notify(context.Background(), Message{Subject: "Alert"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler for channel type slack")
}

func TestService_Notify_NoChannels(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service := NewService(logger)

	err := service.Notify(context.Background(), Message{Subject: "Alert"})
	require.NoError(t, err)
}

func TestService_TestChannels(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service := NewService(logger)

	slack := &fakeHandler{channelType: ChannelTypeSlack}
	teams := &fakeHandler{channelType: ChannelTypeTeams, fail: true}
	service.RegisterChannelHandler(slack)
	service.RegisterChannelHandler(teams)
	service.AddChannel(Channel{Type: ChannelTypeSlack, Name: "slack"})
	service.AddChannel(Channel{Type: ChannelTypeTeams, Name: "teams"})

	results := service.TestChannels(context.Background())

	require.Len(t, results, 2)
	assert.NoError(t, results["slack"])
	assert.Error(t, results["teams"])
}

func TestAlertAdapter_HandleAlert(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service := NewService(logger)

	slack := &fakeHandler{channelType: ChannelTypeSlack}
	service.RegisterChannelHandler(slack)
	service.AddChannel(Channel{Type: ChannelTypeSlack, Name: "slack"})

	adapter := NewAlertAdapter(service)
	assert.Equal(t, "webhook-channels", adapter.Name())

	alert := resilience.Alert{
		ID:          "alert-1",
		Severity:    resilience.SeverityError,
		Title:       "Circuit Breaker OPEN",
		Description: "Circuit breaker 'payments' transitioned from closed to open",
		Source:      "circuit_breaker",
		Timestamp:   time.Now(),
		Tags: map[string]string{
			"service_name": "payments",
			"from":         "closed",
			"to":           "open",
		},
	}

	err := adapter.HandleAlert(context.Background(), alert)
	require.NoError(t, err)

	messages := slack.messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "Circuit Breaker OPEN", messages[0].Subject)
	assert.Equal(t, "ERROR", messages[0].Severity)
	assert.Equal(t, "payments", messages[0].Metadata["service_name"])
	assert.Equal(t, "circuit_breaker", messages[0].Metadata["source"])
}

func TestAlertAdapter_SatisfiesAlertHandler(t *testing.T) {
	var handler resilience.AlertHandler = NewAlertAdapter(NewService(zaptest.NewLogger(t)))
	assert.NotNil(t, handler)
}
