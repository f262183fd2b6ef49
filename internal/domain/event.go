package domain

import "strings"

// User identifies a chat-platform account.
type User struct {
	ID  string `json:"id"`
	Bot bool   `json:"bot,omitempty"`
}

// InboundMessage is the subset of a Discord MESSAGE_CREATE payload the
// assistant consumes.
type InboundMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	Content   string `json:"content"`
	Author    User   `json:"author"`
	Mentions  []User `json:"mentions,omitempty"`
}

// IsDirect reports whether the message was sent outside a guild.
func (m InboundMessage) IsDirect() bool {
	return strings.TrimSpace(m.GuildID) == ""
}

// MentionsUser reports whether userID is among the message mentions.
func (m InboundMessage) MentionsUser(userID string) bool {
	for _, u := range m.Mentions {
		if u.ID == userID {
			return true
		}
	}
	return false
}
