package metrics

import (
	"github.com/foxseedlab/kikitori/internal/config"
	"github.com/foxseedlab/kikitori/internal/metrics"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (metrics.Recorder, error) {
		c := do.MustInvoke[*config.Config](i)
		return NewPrometheusRecorder(c.PushgatewayURL), nil
	})
}
