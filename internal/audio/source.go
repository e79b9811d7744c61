package audio

import "errors"

var ErrUnknownFormat = errors.New("audio format could not be detected")

type Payload struct {
	Path   string
	Data   []byte
	Format Format
}

func (p Payload) Len() int {
	return len(p.Data)
}

type Source interface {
	// Load reads the whole file into memory. FormatAuto asks the source to
	// detect the container from the content.
	Load(path string, format Format) (Payload, error)
}
