package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/toolmesh/toolmesh/internal/notifications"
)

// TeamsHandler implements notification sending to Microsoft Teams
type TeamsHandler struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// TeamsMessage represents a Microsoft Teams message payload
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text,omitempty"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

// TeamsSection represents a section in a Teams message
type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Text          string      `json:"text,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

// TeamsFact represents a fact in a Teams section
type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewTeamsHandler creates a new Microsoft Teams notification handler
func NewTeamsHandler(logger *zap.Logger) *TeamsHandler {
	return &TeamsHandler{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send sends a notification to Microsoft Teams
func (h *TeamsHandler) Send(ctx context.Context, channel notifications.Channel, message notifications.Message) error {
	if channel.Config.TeamsWebhookURL == "" {
		return fmt.Errorf("teams webhook URL not configured")
	}

	teamsMessage := h.buildTeamsMessage(message)

	payload, err := json.Marshal(teamsMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal teams message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", channel.Config.TeamsWebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send teams message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("teams API returned status %d", resp.StatusCode)
	}

	h.logger.Info("Successfully sent Teams notification",
		zap.String("channel", channel.Name),
		zap.String("webhook_url", maskWebhookURL(channel.Config.TeamsWebhookURL)))

	return nil
}

// Test tests the Microsoft Teams channel connectivity
func (h *TeamsHandler) Test(ctx context.Context, channel notifications.Channel) error {
	if channel.Config.TeamsWebhookURL == "" {
		return fmt.Errorf("teams webhook URL not configured")
	}

	testMessage := notifications.Message{
		Subject:   "ToolMesh Test Notification",
		Body:      "This is a test notification from ToolMesh. If you receive this, your Microsoft Teams integration is working correctly!",
		Severity:  "INFO",
		Timestamp: time.Now(),
	}

	return h.Send(ctx, channel, testMessage)
}

// GetChannelType returns the channel type
func (h *TeamsHandler) GetChannelType() notifications.ChannelType {
	return notifications.ChannelTypeTeams
}

// buildTeamsMessage converts a generic alert message to Teams format
func (h *TeamsHandler) buildTeamsMessage(message notifications.Message) TeamsMessage {
	teamsMessage := TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Summary: message.Subject,
		Title:   message.Subject,
		Text:    message.Body,
	}

	switch message.Severity {
	case "CRITICAL", "ERROR":
		teamsMessage.ThemeColor = "FF0000" // Red
	case "WARNING":
		teamsMessage.ThemeColor = "FFA500" // Orange
	case "INFO":
		teamsMessage.ThemeColor = "00FF00" // Green
	default:
		teamsMessage.ThemeColor = "0078D4" // Microsoft Blue
	}

	section := TeamsSection{
		Markdown: true,
	}

	if service, exists := message.Metadata["service_name"]; exists {
		section.Facts = append(section.Facts, TeamsFact{
			Name:  "Service",
			Value: fmt.Sprintf("%v", service),
		})
	}

	if source, exists := message.Metadata["source"]; exists {
		section.Facts = append(section.Facts, TeamsFact{
			Name:  "Source",
			Value: fmt.Sprintf("%v", source),
		})
	}

	from, hasFrom := message.Metadata["from"]
	to, hasTo := message.Metadata["to"]
	if hasFrom && hasTo {
		section.Facts = append(section.Facts, TeamsFact{
			Name:  "Transition",
			Value: fmt.Sprintf("%v → %v", from, to),
		})
	}

	if errorType, exists := message.Metadata["error_type"]; exists {
		section.Facts = append(section.Facts, TeamsFact{
			Name:  "Error Type",
			Value: fmt.Sprintf("%v", errorType),
		})
	}

	if message.Severity != "" {
		section.Facts = append(section.Facts, TeamsFact{
			Name:  "Severity",
			Value: message.Severity,
		})
	}

	if len(section.Facts) > 0 {
		teamsMessage.Sections = []TeamsSection{section}
	}

	return teamsMessage
}
