package notifications

import (
	"context"
	"time"
)

// ChannelType identifies a notification destination kind
type ChannelType string

const (
	ChannelTypeSlack ChannelType = "slack"
	ChannelTypeTeams ChannelType = "teams"
)

// Channel represents a configured notification destination
type Channel struct {
	Type   ChannelType   `json:"type"`
	Name   string        `json:"name"`
	Config ChannelConfig `json:"config"`
}

// ChannelConfig contains channel-specific configuration
type ChannelConfig struct {
	// Slack configuration
	SlackWebhookURL string `json:"slack_webhook_url,omitempty"`
	SlackChannel    string `json:"slack_channel,omitempty"`
	SlackUsername   string `json:"slack_username,omitempty"`

	// Teams configuration
	TeamsWebhookURL string `json:"teams_webhook_url,omitempty"`
}

// Message represents a formatted alert message ready for delivery
type Message struct {
	Subject   string                 `json:"subject"`
	Body      string                 `json:"body"`
	Severity  string                 `json:"severity"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChannelHandler defines the interface for channel-specific delivery
type ChannelHandler interface {
	Send(ctx context.Context, channel Channel, message Message) error
	Test(ctx context.Context, channel Channel) error
	GetChannelType() ChannelType
}
