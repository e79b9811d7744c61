package audio

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/foxseedlab/kikitori/internal/audio"
	"github.com/gabriel-vasile/mimetype"
)

var formatByExtension = map[string]audio.Format{
	"wav":  audio.FormatWAV,
	"ogg":  audio.FormatOggOpus,
	"oga":  audio.FormatOggOpus,
	"opus": audio.FormatOggOpus,
	"mp3":  audio.FormatMP3,
	"flac": audio.FormatFLAC,
}

// FileSource loads the input audio from the local filesystem.
type FileSource struct{}

func NewFileSource() *FileSource {
	return &FileSource{}
}

func (s *FileSource) Load(path string, format audio.Format) (audio.Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.Payload{}, fmt.Errorf("read audio file: %w", err)
	}
	if format == audio.FormatAuto {
		format, err = detectFormat(data)
		if err != nil {
			return audio.Payload{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	slog.Info("audio loaded", "path", path, "bytes", len(data), "format", format)
	return audio.Payload{Path: path, Data: data, Format: format}, nil
}

func detectFormat(data []byte) (audio.Format, error) {
	mtype := mimetype.Detect(data)
	for m := mtype; m != nil; m = m.Parent() {
		ext := strings.TrimPrefix(m.Extension(), ".")
		if f, ok := formatByExtension[ext]; ok {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: content looks like %s", audio.ErrUnknownFormat, mtype.String())
}
