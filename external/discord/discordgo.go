package discord

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/kikitori/internal/discord"
)

// Client posts transcripts over the Discord REST API. No gateway connection
// is opened.
type Client struct {
	session   *discordgo.Session
	channelID string
}

func NewClient(token, channelID string) (*Client, error) {
	if token == "" {
		return &Client{}, nil
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &Client{session: s, channelID: channelID}, nil
}

func (c *Client) Enabled() bool {
	return c.session != nil && c.channelID != ""
}

func (c *Client) ChannelID() string {
	return c.channelID
}

func (c *Client) SendChannelMessageWithFile(msg discordpkg.FileMessage) error {
	if !c.Enabled() {
		return nil
	}
	channelID := msg.ChannelID
	if channelID == "" {
		channelID = c.channelID
	}
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: msg.Content,
		Files: []*discordgo.File{
			{Name: msg.Filename, ContentType: "text/plain", Reader: bytes.NewReader(msg.FileBody)},
		},
	})
	if isRESTNotFound(err) {
		slog.Warn("discord channel not found", "channel_id", channelID)
		return fmt.Errorf("discord channel %s not found: %w", channelID, err)
	}
	return err
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}
