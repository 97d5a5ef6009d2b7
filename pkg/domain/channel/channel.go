// Package channel defines the Channel bounded context.
// A Channel is an aggregate root representing one messaging transport the
// relay reads signals from (a source) or publishes them to (a destination).
package channel

import (
	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
)

// ---------------------------------------------------------------------------
// Value objects
// ---------------------------------------------------------------------------

// Role is the direction a channel serves in the relay.
type Role string

const (
	RoleSource      Role = "source"
	RoleDestination Role = "destination"
)

// Valid returns true if the role is recognized.
func (r Role) Valid() bool { return r == RoleSource || r == RoleDestination }

// ConnectionStatus is the transport state of a channel.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// AccessControlList restricts which source chats a channel accepts.
type AccessControlList struct {
	AllowList []int64 `json:"allow_list"`
}

// NewAccessControlList creates an ACL from a whitelist.
func NewAccessControlList(allowList []int64) AccessControlList {
	if allowList == nil {
		allowList = []int64{}
	}
	return AccessControlList{AllowList: allowList}
}

// IsAllowed returns true if the chat is in the allow list, or if the list is empty (open).
func (acl AccessControlList) IsAllowed(chatID int64) bool {
	if len(acl.AllowList) == 0 {
		return true
	}
	for _, allowed := range acl.AllowList {
		if allowed == chatID {
			return true
		}
	}
	return false
}

// Metrics tracks channel usage statistics.
type Metrics struct {
	MessagesReceived int64            `json:"messages_received"`
	MessagesSent     int64            `json:"messages_sent"`
	ErrorCount       int64            `json:"error_count"`
	LastActivityAt   domain.Timestamp `json:"last_activity_at"`
	ConnectedSince   domain.Timestamp `json:"connected_since"`
}

// ---------------------------------------------------------------------------
// Channel aggregate root
// ---------------------------------------------------------------------------

// Channel is the aggregate root for the messaging context.
// It is not safe for concurrent use; the application service serializes access.
type Channel struct {
	domain.AggregateRoot

	Name string             `json:"name"`
	Type domain.ChannelType `json:"type"`
	Role Role               `json:"role"`

	Status ConnectionStatus `json:"status"`
	Error  string           `json:"error,omitempty"`

	ACL     AccessControlList `json:"acl"`
	Metrics Metrics           `json:"metrics"`

	CreatedAt domain.Timestamp `json:"created_at"`
	UpdatedAt domain.Timestamp `json:"updated_at"`
}

// MarkConnected transitions the channel to connected state.
func (ch *Channel) MarkConnected() {
	now := domain.Now()
	ch.Status = StatusConnected
	ch.Error = ""
	ch.Metrics.ConnectedSince = now
	ch.UpdatedAt = now
	ch.RecordEvent(domain.NewEvent(domain.EventChannelConnected, ch.ID(), map[string]string{
		"channel": ch.Name,
		"type":    string(ch.Type),
		"role":    string(ch.Role),
	}))
}

// MarkDisconnected transitions the channel to disconnected state.
func (ch *Channel) MarkDisconnected() {
	ch.Status = StatusDisconnected
	ch.UpdatedAt = domain.Now()
	ch.RecordEvent(domain.NewEvent(domain.EventChannelDisconnected, ch.ID(), map[string]string{
		"channel": ch.Name,
	}))
}

// MarkError records an error state on the channel.
func (ch *Channel) MarkError(err string) {
	ch.Status = StatusError
	ch.Error = err
	ch.Metrics.ErrorCount++
	ch.UpdatedAt = domain.Now()
	ch.RecordEvent(domain.NewEvent(domain.EventChannelError, ch.ID(), map[string]string{
		"channel": ch.Name,
		"error":   err,
	}))
}

// RecordMessageSent increments the outbound message counter.
func (ch *Channel) RecordMessageSent() {
	ch.Metrics.MessagesSent++
	ch.Metrics.LastActivityAt = domain.Now()
	ch.UpdatedAt = ch.Metrics.LastActivityAt
}

// RecordMessageReceived increments the inbound message counter.
func (ch *Channel) RecordMessageReceived() {
	ch.Metrics.MessagesReceived++
	ch.Metrics.LastActivityAt = domain.Now()
	ch.UpdatedAt = ch.Metrics.LastActivityAt
}

// RecordSendFailure counts a failed publish without changing the connection
// state: a single failed message does not mean the transport is down.
func (ch *Channel) RecordSendFailure() {
	ch.Metrics.ErrorCount++
	ch.UpdatedAt = domain.Now()
}

// IsAllowed checks if a source chat is permitted by the access control list.
func (ch *Channel) IsAllowed(chatID int64) bool {
	return ch.ACL.IsAllowed(chatID)
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

// Factory creates Channel aggregates with invariant validation.
type Factory struct{}

// CreateChannel validates inputs and constructs a new Channel aggregate.
func (f Factory) CreateChannel(name string, channelType domain.ChannelType, role Role, allowList []int64) (*Channel, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if !channelType.Valid() {
		return nil, ErrInvalidChannelType
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}

	now := domain.Now()
	ch := &Channel{
		Name:      name,
		Type:      channelType,
		Role:      role,
		Status:    StatusDisconnected,
		ACL:       NewAccessControlList(allowList),
		CreatedAt: now,
		UpdatedAt: now,
	}
	ch.SetID(domain.NewID())
	return ch, nil
}

// ---------------------------------------------------------------------------
// Domain errors
// ---------------------------------------------------------------------------

// ChannelError is a typed error for the channel domain.
type ChannelError string

func (e ChannelError) Error() string { return string(e) }

const (
	ErrEmptyName          ChannelError = "channel name cannot be empty"
	ErrInvalidChannelType ChannelError = "invalid channel type"
	ErrInvalidRole        ChannelError = "invalid channel role"
	ErrNotFound           ChannelError = "channel not found"
	ErrAlreadyRegistered  ChannelError = "channel already registered"
)
