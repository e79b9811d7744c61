package audio

import (
	"fmt"
	"strings"
)

type Format string

const (
	FormatAuto        Format = "auto"
	FormatWAV         Format = "wav"
	FormatOggOpus     Format = "ogg-opus"
	FormatMP3         Format = "mp3"
	FormatFLAC        Format = "flac"
	FormatLinear16PCM Format = "linear16-pcm"
)

var knownFormats = []Format{FormatAuto, FormatWAV, FormatOggOpus, FormatMP3, FormatFLAC, FormatLinear16PCM}

// ParseFormat accepts the canonical names plus the container names used by
// SpeechKit style clients (Wav, OggOpus, Mp3, Linear16Pcm).
func ParseFormat(s string) (Format, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("_", "-", " ", "-").Replace(norm)
	switch norm {
	case "", "auto":
		return FormatAuto, nil
	case "wav", "wave":
		return FormatWAV, nil
	case "ogg-opus", "oggopus", "ogg", "opus":
		return FormatOggOpus, nil
	case "mp3", "mpeg":
		return FormatMP3, nil
	case "flac":
		return FormatFLAC, nil
	case "linear16-pcm", "linear16pcm", "linear16", "pcm":
		return FormatLinear16PCM, nil
	}
	return "", fmt.Errorf("unknown audio format %q (want one of %v)", s, knownFormats)
}

// IsContainer reports whether the format carries its own header so the
// service can detect encoding and sample rate without explicit parameters.
func (f Format) IsContainer() bool {
	switch f {
	case FormatWAV, FormatOggOpus, FormatMP3, FormatFLAC:
		return true
	default:
		return false
	}
}

func (f Format) String() string {
	return string(f)
}
