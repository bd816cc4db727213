package channels

import (
	"go.uber.org/zap"

	"github.com/toolmesh/toolmesh/internal/notifications"
	"github.com/toolmesh/toolmesh/pkg/config"
)

// Configure registers the built-in channel handlers and adds a destination
// for every webhook URL present in the alerting config.
func Configure(service *notifications.Service, cfg *config.AlertingConfig, logger *zap.Logger) {
	service.RegisterChannelHandler(NewSlackHandler(logger))
	service.RegisterChannelHandler(NewTeamsHandler(logger))

	if cfg == nil {
		return
	}

	if cfg.SlackWebhookURL != "" {
		service.AddChannel(notifications.Channel{
			Type: notifications.ChannelTypeSlack,
			Name: "slack",
			Config: notifications.ChannelConfig{
				SlackWebhookURL: cfg.SlackWebhookURL,
				SlackUsername:   "ToolMesh",
			},
		})
	}

	if cfg.TeamsWebhookURL != "" {
		service.AddChannel(notifications.Channel{
			Type: notifications.ChannelTypeTeams,
			Name: "teams",
			Config: notifications.ChannelConfig{
				TeamsWebhookURL: cfg.TeamsWebhookURL,
			},
		})
	}
}
