package session

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/discord"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/foxseedlab/kikitori/internal/repository"
	"github.com/foxseedlab/kikitori/internal/sink"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/foxseedlab/kikitori/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Controller, error) {
		cfg := do.MustInvoke[*config.Config](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		newWriter := do.MustInvoke[sink.WriterFactory](i)
		repo := do.MustInvoke[repository.Repository](i)
		pub := do.MustInvoke[publisher.Publisher](i)
		rec := do.MustInvoke[metrics.Recorder](i)
		wh := do.MustInvoke[webhook.Sender](i)
		dc := do.MustInvoke[discord.Client](i)
		opts := Options{
			FrameBytes:     cfg.FrameBytes,
			PollInterval:   cfg.PollInterval,
			SessionTimeout: cfg.SessionTimeout,
			QueueSize:      cfg.QueueSize,
		}
		return NewController(opts, stt, newWriter, repo, pub, rec, wh, dc), nil
	})
}
