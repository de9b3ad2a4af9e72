package pubsub

// ConversationEvent is the closed set of events delivered on a single
// conversation's stream. The subscription key is tenant+conversation.
type ConversationEvent string

const (
	ConversationMessageCreated ConversationEvent = "message.created"
	ConversationMessageUpdated ConversationEvent = "message.updated"
	ConversationMessageDeleted ConversationEvent = "message.deleted"
	ConversationTitleUpdated   ConversationEvent = "title.updated"
	ConversationTyping         ConversationEvent = "typing"
)

// ConversationListEvent is the closed set of events delivered on a tenant's
// conversation-list stream. The subscription key is the tenant alone.
type ConversationListEvent string

const (
	ConversationListCreated ConversationListEvent = "conversation.created"
	ConversationListUpdated ConversationListEvent = "conversation.updated"
	ConversationListDeleted ConversationListEvent = "conversation.deleted"
)

// NewConversationHub creates the hub carrying per-conversation events.
func NewConversationHub(cfg HubConfig) *Hub[ConversationEvent] {
	cfg.Name = "conversation"
	return NewHub[ConversationEvent](cfg)
}

// NewConversationListHub creates the hub carrying conversation-list events.
func NewConversationListHub(cfg HubConfig) *Hub[ConversationListEvent] {
	cfg.Name = "conversation-list"
	return NewHub[ConversationListEvent](cfg)
}
