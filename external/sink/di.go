package sink

import (
	"github.com/foxseedlab/kikitori/internal/sink"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.ProvideValue(injector, sink.WriterFactory(NewFileWriter))
}
