package publisher

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/foxseedlab/kikitori/internal/publisher"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (publisher.Publisher, error) {
		c := do.MustInvoke[*config.Config](i)
		rec := do.MustInvoke[metrics.Recorder](i)
		return NewKafkaPublisher(KafkaConfig{
			Brokers:      c.KafkaBrokers,
			TopicPartial: c.KafkaTopicPartial,
			TopicFinal:   c.KafkaTopicFinal,
		}, rec), nil
	})
}
