package domain

import "time"

type InboundMessage struct {
	Channel     string
	ChatID      string
	SenderID    string
	DisplayName string
	Content     string
	Image       []byte // raw attachment bytes when the message carries a picture
	ImageMime   string
	Timestamp   time.Time
}

// ContactID is the key a conversation is tracked under. Chat ids are only
// unique within one channel.
func (m InboundMessage) ContactID() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown
}
