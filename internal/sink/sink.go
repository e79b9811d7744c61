package sink

import "fmt"

type Target string

const (
	TargetTrace   Target = "trace"
	TargetFinal   Target = "final"
	TargetPartial Target = "partial"
)

const (
	traceSuffix   = ".trace.json"
	finalSuffix   = ".Final.txt"
	partialSuffix = ".partial.txt"
)

type Paths struct {
	Trace   string
	Final   string
	Partial string
}

// PathsFor derives the output files from the input audio path.
func PathsFor(input string) Paths {
	return Paths{
		Trace:   input + traceSuffix,
		Final:   input + finalSuffix,
		Partial: input + partialSuffix,
	}
}

func (p Paths) For(t Target) (string, error) {
	switch t {
	case TargetTrace:
		return p.Trace, nil
	case TargetFinal:
		return p.Final, nil
	case TargetPartial:
		return p.Partial, nil
	}
	return "", fmt.Errorf("unknown sink target %q", t)
}

// Writer appends to the session outputs. Each Append is atomic with respect
// to other appends on the same writer.
type Writer interface {
	Append(t Target, data []byte) error
	Close() error
}

type WriterFactory func(paths Paths) (Writer, error)
