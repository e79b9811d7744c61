package session

import (
	"context"
	"log/slog"

	"github.com/foxseedlab/kikitori/internal/discord"
)

// deliverTranscript sends the journaled final segments to the optional
// Discord channel and webhook. Failures are logged and never change the
// outcome of the session.
func (c *Controller) deliverTranscript(ctx context.Context, log *slog.Logger, req Request, sum *Summary) {
	segments, err := c.repo.ListSegmentsBySessionID(ctx, sum.SessionID)
	if err != nil {
		log.Error("failed to list transcript segments", "error", err)
		return
	}
	if len(segments) == 0 {
		log.Info("no final segments to deliver")
		return
	}

	meta := metadataFor(req, sum)
	if c.discord.Enabled() {
		if err := c.discord.SendChannelMessageWithFile(discord.FileMessage{
			ChannelID: c.discord.ChannelID(),
			Content:   attachmentMessage(req.Audio.Path, sum.StopReason),
			Filename:  transcriptFilename(sum.SessionID),
			FileBody:  buildTranscriptText(meta, segments),
		}); err != nil {
			log.Error("failed to post transcript to discord", "error", err)
		}
	}
	if err := c.webhook.SendTranscript(ctx, buildTranscriptWebhookPayload(meta, segments)); err != nil {
		log.Error("failed to send webhook transcript", "error", err)
	}
}
