package notifications

import (
	"context"

	"github.com/toolmesh/toolmesh/pkg/resilience"
)

// AlertAdapter delivers resilience alerts through the notification
// channels. It implements resilience.AlertHandler.
type AlertAdapter struct {
	service *Service
}

// NewAlertAdapter creates an adapter over the notification service
func NewAlertAdapter(service *Service) *AlertAdapter {
	return &AlertAdapter{service: service}
}

// HandleAlert converts the alert into a channel message and fans it out
func (a *AlertAdapter) HandleAlert(ctx context.Context, alert resilience.Alert) error {
	metadata := make(map[string]interface{}, len(alert.Metadata)+len(alert.Tags)+1)
	for key, value := range alert.Metadata {
		metadata[key] = value
	}
	for key, value := range alert.Tags {
		metadata[key] = value
	}
	metadata["source"] = alert.Source

	message := Message{
		Subject:   alert.Title,
		Body:      alert.Description,
		Severity:  alert.Severity.String(),
		Metadata:  metadata,
		Timestamp: alert.Timestamp,
	}

	return a.service.Notify(ctx, message)
}

// Name identifies this handler in alert manager logs
func (a *AlertAdapter) Name() string {
	return "webhook-channels"
}
