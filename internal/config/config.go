package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/kikitori/internal/audio"
)

const (
	ModeSTT = "stt"
	ModeTTS = "tts"
)

// ErrSynthesisUnsupported is returned when the tts mode is requested; only
// recognition is implemented.
var ErrSynthesisUnsupported = errors.New("speech synthesis (tts) is not supported")

type Config struct {
	Env  string
	Mode string

	ServiceAddress string
	Insecure       bool
	InputFile      string

	Language          string
	Model             string
	AudioFormat       audio.Format
	SampleRateHertz   int
	AudioChannelCount int

	FrameBytes     int
	PollInterval   time.Duration
	SessionTimeout time.Duration
	QueueSize      int

	GoogleCloudProjectID       string
	GoogleCloudSpeechLocation  string
	GoogleCloudCredentialsJSON string

	DatabaseURL          string
	TranscriptWebhookURL string
	DiscordToken         string
	DiscordChannelID     string
	KafkaBrokers         []string
	KafkaTopicPartial    string
	KafkaTopicFinal      string
	PushgatewayURL       string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.Mode != ModeSTT && c.Mode != ModeTTS {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeSTT, ModeTTS, c.Mode)
	}
	if _, err := audio.ParseFormat(string(c.AudioFormat)); err != nil {
		return err
	}
	if c.AudioFormat == audio.FormatLinear16PCM && c.SampleRateHertz <= 0 {
		return fmt.Errorf("sample rate must be positive for %s audio, got %d", audio.FormatLinear16PCM, c.SampleRateHertz)
	}
	if c.AudioChannelCount <= 0 {
		return fmt.Errorf("audio channel count must be positive, got %d", c.AudioChannelCount)
	}
	if c.FrameBytes <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameBytes)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.SessionTimeout < 0 {
		return fmt.Errorf("session timeout must not be negative, got %s", c.SessionTimeout)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive, got %d", c.QueueSize)
	}
	if (c.DiscordToken == "") != (c.DiscordChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	if len(c.KafkaBrokers) > 0 && (c.KafkaTopicPartial == "" || c.KafkaTopicFinal == "") {
		return fmt.Errorf("KAFKA_TOPIC_PARTIAL and KAFKA_TOPIC_FINAL are required when KAFKA_BROKERS is set")
	}
	return nil
}

type requiredField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredField {
	return []requiredField{
		{name: "service address (--service-uri / KIKITORI_SERVICE_ADDRESS)", value: c.ServiceAddress},
		{name: "input file (--in-file / KIKITORI_IN_FILE)", value: c.InputFile},
		{name: "language (--lang / KIKITORI_LANGUAGE)", value: c.Language},
		{name: "GOOGLE_CLOUD_SPEECH_LOCATION", value: c.GoogleCloudSpeechLocation},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
