package notifications

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Service fans alert messages out to every configured channel
type Service struct {
	logger   *zap.Logger
	handlers map[ChannelType]ChannelHandler
	channels []Channel
	mu       sync.RWMutex
}

// NewService creates a new notification service
func NewService(logger *zap.Logger) *Service {
	return &Service{
		logger:   logger,
		handlers: make(map[ChannelType]ChannelHandler),
		channels: make([]Channel, 0),
	}
}

// RegisterChannelHandler registers a handler for a specific channel type
func (s *Service) RegisterChannelHandler(handler ChannelHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[handler.GetChannelType()] = handler
}

// AddChannel adds a delivery destination
func (s *Service) AddChannel(channel Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channel)
}

// Channels returns the configured destinations
func (s *Service) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]Channel, len(s.channels))
	copy(channels, s.channels)
	return channels
}

// Notify sends the message to every configured channel. Delivery failures
// are collected; the message still reaches the channels that work.
func (s *Service) Notify(ctx context.Context, message Message) error {
	s.mu.RLock()
	channels := make([]Channel, len(s.channels))
	copy(channels, s.channels)
	handlers := make(map[ChannelType]ChannelHandler, len(s.handlers))
	for channelType, handler := range s.handlers {
		handlers[channelType] = handler
	}
	s.mu.RUnlock()

	var errs []error
	for _, channel := range channels {
		handler, ok := handlers[channel.Type]
		if !ok {
			s.logger.Warn("No handler registered for channel type",
				zap.String("channel", channel.Name),
				zap.String("channel_type", string(channel.Type)))
			errs = append(errs, fmt.Errorf("no handler for channel type %s", channel.Type))
			continue
		}

		if err := handler.Send(ctx, channel, message); err != nil {
			s.logger.Error("Failed to send notification",
				zap.String("channel", channel.Name),
				zap.String("channel_type", string(channel.Type)),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to send to %d channels: %v", len(errs), errs)
	}

	return nil
}

// TestChannels exercises every configured channel and reports the outcome
// per channel name
func (s *Service) TestChannels(ctx context.Context) map[string]error {
	s.mu.RLock()
	channels := make([]Channel, len(s.channels))
	copy(channels, s.channels)
	handlers := make(map[ChannelType]ChannelHandler, len(s.handlers))
	for channelType, handler := range s.handlers {
		handlers[channelType] = handler
	}
	s.mu.RUnlock()

	results := make(map[string]error, len(channels))
	for _, channel := range channels {
		handler, ok := handlers[channel.Type]
		if !ok {
			results[channel.Name] = fmt.Errorf("no handler for channel type %s", channel.Type)
			continue
		}
		results[channel.Name] = handler.Test(ctx, channel)
	}

	return results
}
