package discord

type FileMessage struct {
	ChannelID string
	Content   string
	Filename  string
	FileBody  []byte
}

// Client posts finished transcripts to a text channel.
type Client interface {
	Enabled() bool
	ChannelID() string
	SendChannelMessageWithFile(msg FileMessage) error
}
