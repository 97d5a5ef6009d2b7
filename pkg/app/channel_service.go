package app

import (
	"fmt"
	"sort"
	"sync"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	channeldomain "github.com/liker0704/telegram-signals-parisng/pkg/domain/channel"
)

// ---------------------------------------------------------------------------
// Channel application service
// ---------------------------------------------------------------------------

// ChannelService keeps the state of every configured transport: connection
// status, traffic counters and the source chat allow list. Transports report
// into it; the intake loop consults it before routing an event.
type ChannelService struct {
	mu       sync.Mutex
	channels map[string]*channeldomain.Channel
	eventBus domain.EventBus
	factory  channeldomain.Factory
}

// NewChannelService creates a new channel application service.
func NewChannelService(eventBus domain.EventBus) *ChannelService {
	return &ChannelService{
		channels: make(map[string]*channeldomain.Channel),
		eventBus: eventBus,
	}
}

// RegisterChannel creates a channel entry. Names are unique.
func (s *ChannelService) RegisterChannel(name string, channelType domain.ChannelType, role channeldomain.Role, allowList []int64) (*channeldomain.Channel, error) {
	ch, err := s.factory.CreateChannel(name, channelType, role, allowList)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[name]; exists {
		return nil, fmt.Errorf("channel '%s': %w", name, channeldomain.ErrAlreadyRegistered)
	}
	s.channels[name] = ch
	return ch, nil
}

// MarkConnected records that the named transport is up.
func (s *ChannelService) MarkConnected(name string) error {
	return s.mutate(name, func(ch *channeldomain.Channel) { ch.MarkConnected() })
}

// MarkDisconnected records that the named transport stopped.
func (s *ChannelService) MarkDisconnected(name string) error {
	return s.mutate(name, func(ch *channeldomain.Channel) { ch.MarkDisconnected() })
}

// MarkError records a transport level failure.
func (s *ChannelService) MarkError(name string, cause error) error {
	return s.mutate(name, func(ch *channeldomain.Channel) { ch.MarkError(cause.Error()) })
}

// RecordReceived counts an inbound message.
func (s *ChannelService) RecordReceived(name string) error {
	return s.mutate(name, func(ch *channeldomain.Channel) { ch.RecordMessageReceived() })
}

// RecordSent counts a published message.
func (s *ChannelService) RecordSent(name string) error {
	return s.mutate(name, func(ch *channeldomain.Channel) { ch.RecordMessageSent() })
}

// RecordSendFailure counts a failed publish.
func (s *ChannelService) RecordSendFailure(name string) error {
	return s.mutate(name, func(ch *channeldomain.Channel) { ch.RecordSendFailure() })
}

// Allowed reports whether the named source accepts events from chatID.
// Unregistered sources are open so that ad hoc inputs (webhooks, tests)
// are not silently discarded.
func (s *ChannelService) Allowed(name string, chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	if !ok {
		return true
	}
	return ch.IsAllowed(chatID)
}

// GetChannel returns a copy of the named channel.
func (s *ChannelService) GetChannel(name string) (channeldomain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[name]
	if !ok {
		return channeldomain.Channel{}, channeldomain.ErrNotFound
	}
	return *ch, nil
}

// ListChannels returns the registered channel names, sorted.
func (s *ChannelService) ListChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the current status of all channels.
func (s *ChannelService) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := make(map[string]interface{}, len(s.channels))
	for _, ch := range s.channels {
		entry := map[string]interface{}{
			"type":    string(ch.Type),
			"role":    string(ch.Role),
			"status":  string(ch.Status),
			"metrics": ch.Metrics,
		}
		if ch.Error != "" {
			entry["error"] = ch.Error
		}
		status[ch.Name] = entry
	}
	return status
}

// mutate applies fn under the lock and publishes the resulting events after
// the lock is released, so handlers may call back into the service.
func (s *ChannelService) mutate(name string, fn func(ch *channeldomain.Channel)) error {
	s.mu.Lock()
	ch, ok := s.channels[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("channel '%s': %w", name, channeldomain.ErrNotFound)
	}
	fn(ch)
	events := ch.PullEvents()
	s.mu.Unlock()

	if s.eventBus != nil {
		for _, event := range events {
			s.eventBus.Publish(event)
		}
	}
	return nil
}
