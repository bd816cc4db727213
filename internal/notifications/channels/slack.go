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

// SlackHandler implements notification sending to Slack
type SlackHandler struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackHandler creates a new Slack notification handler
func NewSlackHandler(logger *zap.Logger) *SlackHandler {
	return &SlackHandler{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send sends a notification to Slack
func (h *SlackHandler) Send(ctx context.Context, channel notifications.Channel, message notifications.Message) error {
	if channel.Config.SlackWebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	slackMessage := h.buildSlackMessage(channel, message)

	payload, err := json.Marshal(slackMessage)
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", channel.Config.SlackWebhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	h.logger.Info("Successfully sent Slack notification",
		zap.String("channel", channel.Name),
		zap.String("webhook_url", maskWebhookURL(channel.Config.SlackWebhookURL)))

	return nil
}

// Test tests the Slack channel connectivity
func (h *SlackHandler) Test(ctx context.Context, channel notifications.Channel) error {
	if channel.Config.SlackWebhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	testMessage := notifications.Message{
		Subject:   "ToolMesh Test Notification",
		Body:      "This is a test notification from ToolMesh. If you receive this, your Slack integration is working correctly!",
		Severity:  "INFO",
		Timestamp: time.Now(),
	}

	return h.Send(ctx, channel, testMessage)
}

// GetChannelType returns the channel type
func (h *SlackHandler) GetChannelType() notifications.ChannelType {
	return notifications.ChannelTypeSlack
}

// buildSlackMessage converts a generic alert message to Slack format
func (h *SlackHandler) buildSlackMessage(channel notifications.Channel, message notifications.Message) SlackMessage {
	slackMessage := SlackMessage{
		Text:     message.Subject,
		Username: channel.Config.SlackUsername,
		Channel:  channel.Config.SlackChannel,
	}

	// Icon and color follow the alert severity
	switch message.Severity {
	case "CRITICAL":
		slackMessage.IconEmoji = ":rotating_light:"
	case "ERROR":
		slackMessage.IconEmoji = ":red_circle:"
	case "WARNING":
		slackMessage.IconEmoji = ":warning:"
	default:
		slackMessage.IconEmoji = ":information_source:"
	}

	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	attachment := SlackAttachment{
		Text:      message.Body,
		Footer:    "ToolMesh Service Mesh",
		Timestamp: timestamp.Unix(),
	}

	switch message.Severity {
	case "CRITICAL", "ERROR":
		attachment.Color = "danger"
	case "WARNING":
		attachment.Color = "warning"
	default:
		attachment.Color = "good"
	}

	// Add fields from metadata
	if service, exists := message.Metadata["service_name"]; exists {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Service",
			Value: fmt.Sprintf("%v", service),
			Short: true,
		})
	}

	if source, exists := message.Metadata["source"]; exists {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Source",
			Value: fmt.Sprintf("%v", source),
			Short: true,
		})
	}

	from, hasFrom := message.Metadata["from"]
	to, hasTo := message.Metadata["to"]
	if hasFrom && hasTo {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Transition",
			Value: fmt.Sprintf("%v → %v", from, to),
			Short: true,
		})
	}

	if errorType, exists := message.Metadata["error_type"]; exists {
		attachment.Fields = append(attachment.Fields, SlackField{
			Title: "Error Type",
			Value: fmt.Sprintf("%v", errorType),
			Short: true,
		})
	}

	slackMessage.Attachments = []SlackAttachment{attachment}

	return slackMessage
}

// maskWebhookURL masks the webhook URL for logging
func maskWebhookURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}
