package store

// Message is one row of a chat timeline. Identity is the server
// message id when assigned, otherwise the client message id. Inbound
// messages that were never composed locally carry the server id in
// both fields.
type Message struct {
	ID               int64
	ClientMessageID  string
	ServerMessageID  string
	ChatID           string
	SenderID         string
	Content          string
	ReplyToMessageID string
	Status           string
	Timestamp        int64
}

// Chat is conversation metadata. The participant set is a server-owned
// cache refreshed by sync.
type Chat struct {
	ChatID             string
	Name               string
	IsGroup            bool
	CreatorID          string
	CreatedAt          int64
	UnreadCount        int
	LastMessageContent string
	LastMessageTS      int64
}

// Friend is a contact entry.
type Friend struct {
	UserID   string
	Username string
	Name     string
	Email    string
	Picture  string
	Status   string
}

// Participant is one member of a chat.
type Participant struct {
	ChatID   string
	UserID   string
	Username string
	Role     string
	JoinedAt int64
}
