package channels

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/toolmesh/toolmesh/internal/notifications"
	"github.com/toolmesh/toolmesh/pkg/config"
)

func TestTeamsHandler_Send(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := NewTeamsHandler(logger)

	var receivedMessage TeamsMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(&receivedMessage)
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx := context.Background()
	channel := notifications.Channel{
		Type: notifications.ChannelTypeTeams,
		Name: "teams",
		Config: notifications.ChannelConfig{
			TeamsWebhookURL: server.URL,
		},
	}

	message := notifications.Message{
		Subject:  "Service Unhealthy",
		Body:     "Service 'inventory' failed its health probe",
		Severity: "WARNING",
		Metadata: map[string]interface{}{
			"service_name": "inventory",
			"source":       "health_monitor",
		},
	}

	err := handler.Send(ctx, channel, message)

	require.NoError(t, err)
	assert.Equal(t, "MessageCard", receivedMessage.Type)
	assert.Equal(t, "https://schema.org/extensions", receivedMessage.Context)
	assert.Equal(t, "Service Unhealthy", receivedMessage.Summary)
	assert.Equal(t, "Service Unhealthy", receivedMessage.Title)
	assert.Equal(t, "FFA500", receivedMessage.ThemeColor)
	require.Len(t, receivedMessage.Sections, 1)

	facts := receivedMessage.Sections[0].Facts
	assert.Contains(t, facts, TeamsFact{Name: "Service", Value: "inventory"})
	assert.Contains(t, facts, TeamsFact{Name: "Source", Value: "health_monitor"})
	assert.Contains(t, facts, TeamsFact{Name: "Severity", Value: "WARNING"})
}

func TestTeamsHandler_Send_ThemeColors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := NewTeamsHandler(logger)

	tests := []struct {
		severity  string
		wantColor string
	}{
		{"CRITICAL", "FF0000"},
		{"ERROR", "FF0000"},
		{"WARNING", "FFA500"},
		{"INFO", "00FF00"},
		{"", "0078D4"},
	}

	for _, tt := range tests {
		t.Run("severity "+tt.severity, func(t *testing.T) {
			message := handler.buildTeamsMessage(notifications.Message{
				Subject:  "Alert",
				Body:     "body",
				Severity: tt.severity,
			})
			assert.Equal(t, tt.wantColor, message.ThemeColor)
		})
	}
}

func TestTeamsHandler_Send_NoWebhookURL(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := NewTeamsHandler(logger)

	channel := notifications.Channel{
		Type: notifications.ChannelTypeTeams,
	}

	err := handler.Send(context.Background(), channel, notifications.Message{
		Subject: "Alert",
		Body:    "body",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "teams webhook URL not configured")
}

func TestTeamsHandler_Send_ServerError(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := NewTeamsHandler(logger)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel := notifications.Channel{
		Type:   notifications.ChannelTypeTeams,
		Config: notifications.ChannelConfig{TeamsWebhookURL: server.URL},
	}

	err := handler.Send(context.Background(), channel, notifications.Message{
		Subject: "Alert",
		Body:    "body",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "teams API returned status 502")
}

func TestTeamsHandler_GetChannelType(t *testing.T) {
	logger := zaptest.NewLogger(t)
	handler := NewTeamsHandler(logger)

	assert.Equal(t, notifications.ChannelTypeTeams, handler.GetChannelType())
}

func TestConfigure(t *testing.T) {
	logger := zaptest.NewLogger(t)
	service := notifications.NewService(logger)

	Configure(service, nil, logger)
	assert.Empty(t, service.Channels())

	service = notifications.NewService(logger)
	Configure(service, &config.AlertingConfig{
		SlackWebhookURL: "https://hooks.slack.com/services/T/B/X",
		TeamsWebhookURL: "https://example.webhook.office.com/webhookb2/x",
	}, logger)

	channels := service.Channels()
	require.Len(t, channels, 2)
	assert.Equal(t, notifications.ChannelTypeSlack, channels[0].Type)
	assert.Equal(t, notifications.ChannelTypeTeams, channels[1].Type)
}
