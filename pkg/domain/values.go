package domain

// ---------------------------------------------------------------------------
// Shared value objects used across bounded contexts
// ---------------------------------------------------------------------------

// ChannelType represents the kind of messaging channel an event came from or
// a record is published to.
type ChannelType string

const (
	ChannelTelegram ChannelType = "telegram"
	ChannelDiscord  ChannelType = "discord"
	ChannelSlack    ChannelType = "slack"
	ChannelWebhook  ChannelType = "webhook"
	ChannelConsole  ChannelType = "console"
)

// AllChannelTypes returns all known channel types.
func AllChannelTypes() []ChannelType {
	return []ChannelType{
		ChannelTelegram, ChannelDiscord, ChannelSlack, ChannelWebhook, ChannelConsole,
	}
}

// String implements fmt.Stringer.
func (ct ChannelType) String() string { return string(ct) }

// Valid returns true if the channel type is recognized.
func (ct ChannelType) Valid() bool {
	for _, t := range AllChannelTypes() {
		if t == ct {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------

// DropReason explains why an inbound event was filtered out. Drops are
// silent: they are logged at debug level and counted, never surfaced.
type DropReason string

const (
	DropIgnored        DropReason = "ignored"
	DropDuplicate      DropReason = "duplicate"
	DropNotAReply      DropReason = "not_a_reply"
	DropOrphanReply    DropReason = "orphan_reply"
	DropParentNotReady DropReason = "parent_not_ready"
	DropUnauthorized   DropReason = "unauthorized_sender"
	DropEmptyContent   DropReason = "empty_content"
	DropChatNotAllowed DropReason = "chat_not_allowed"
)

func (r DropReason) String() string { return string(r) }

// ---------------------------------------------------------------------------

// Metadata is a generic key-value map for extensible properties.
type Metadata map[string]string

// Get returns a metadata value, or empty string if not present.
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Set writes a metadata key-value pair. Initializes the map if nil.
func (m *Metadata) Set(key, value string) {
	if *m == nil {
		*m = make(Metadata)
	}
	(*m)[key] = value
}
