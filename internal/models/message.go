package models

// Author is the sender of a chat message as needed for impersonation.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
	Bot         bool   `json:"bot"`
}

// ChatMessage is a message received from the chat platform. ChannelID is
// the channel the message was posted in; for threads ParentID holds the
// channel owning the thread.
type ChatMessage struct {
	ID        string `json:"id"`
	GuildID   string `json:"guildId"`
	ChannelID string `json:"channelId"`
	ParentID  string `json:"parentId,omitempty"`
	WebhookID string `json:"webhookId,omitempty"`
	Content   string `json:"content"`
	Author    Author `json:"author"`
}

// InThread reports whether the message was posted inside a thread.
func (m *ChatMessage) InThread() bool {
	return m.ParentID != ""
}

// Attachment is a file reposted together with a message.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}
