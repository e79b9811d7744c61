package transcriber

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/transcriber"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (transcriber.Transcriber, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewCloudSpeechTranscriber(CloudSpeechConfig{
			Endpoint:        c.ServiceAddress,
			Insecure:        c.Insecure,
			ProjectID:       c.GoogleCloudProjectID,
			CredentialsJSON: c.GoogleCloudCredentialsJSON,
			Location:        c.GoogleCloudSpeechLocation,
		}), nil
	})
}
