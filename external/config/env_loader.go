package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/foxseedlab/kikitori/internal/audio"
	internalconfig "github.com/foxseedlab/kikitori/internal/config"
)

type envConfig struct {
	Env                        string        `env:"ENV" envDefault:"production"`
	Mode                       string        `env:"KIKITORI_MODE" envDefault:"stt"`
	ServiceAddress             string        `env:"KIKITORI_SERVICE_ADDRESS"`
	Insecure                   bool          `env:"KIKITORI_INSECURE" envDefault:"false"`
	InputFile                  string        `env:"KIKITORI_IN_FILE"`
	Language                   string        `env:"KIKITORI_LANGUAGE" envDefault:"ru-RU"`
	Model                      string        `env:"KIKITORI_MODEL" envDefault:"general"`
	AudioFormat                string        `env:"KIKITORI_AUDIO_FORMAT" envDefault:"auto"`
	SampleRateHertz            int           `env:"KIKITORI_SAMPLE_RATE" envDefault:"48000"`
	AudioChannelCount          int           `env:"KIKITORI_AUDIO_CHANNELS" envDefault:"1"`
	FrameBytes                 int           `env:"KIKITORI_FRAME_BYTES" envDefault:"4096"`
	PollInterval               time.Duration `env:"KIKITORI_POLL_INTERVAL" envDefault:"200ms"`
	SessionTimeout             time.Duration `env:"KIKITORI_SESSION_TIMEOUT" envDefault:"0s"`
	QueueSize                  int           `env:"KIKITORI_QUEUE_SIZE" envDefault:"64"`
	GoogleCloudProjectID       string        `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudSpeechLocation  string        `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"global"`
	GoogleCloudCredentialsJSON string        `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	DatabaseURL                string        `env:"DATABASE_URL"`
	TranscriptWebhookURL       string        `env:"TRANSCRIPT_WEBHOOK_URL"`
	DiscordToken               string        `env:"DISCORD_TOKEN"`
	DiscordChannelID           string        `env:"DISCORD_CHANNEL_ID"`
	KafkaBrokers               []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopicPartial          string        `env:"KAFKA_TOPIC_PARTIAL" envDefault:"transcript.partial"`
	KafkaTopicFinal            string        `env:"KAFKA_TOPIC_FINAL" envDefault:"transcript.final"`
	PushgatewayURL             string        `env:"PROMETHEUS_PUSHGATEWAY_URL"`
}

// Load reads the environment first and then applies command-line flags on
// top, so a flag always wins over its variable.
func Load(args []string) (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}
	if err := parseFlags(&raw, args); err != nil {
		return nil, err
	}

	format, err := audio.ParseFormat(raw.AudioFormat)
	if err != nil {
		return nil, err
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		Mode:                       raw.Mode,
		ServiceAddress:             raw.ServiceAddress,
		Insecure:                   raw.Insecure,
		InputFile:                  raw.InputFile,
		Language:                   raw.Language,
		Model:                      raw.Model,
		AudioFormat:                format,
		SampleRateHertz:            raw.SampleRateHertz,
		AudioChannelCount:          raw.AudioChannelCount,
		FrameBytes:                 raw.FrameBytes,
		PollInterval:               raw.PollInterval,
		SessionTimeout:             raw.SessionTimeout,
		QueueSize:                  raw.QueueSize,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		DatabaseURL:                raw.DatabaseURL,
		TranscriptWebhookURL:       raw.TranscriptWebhookURL,
		DiscordToken:               raw.DiscordToken,
		DiscordChannelID:           raw.DiscordChannelID,
		KafkaBrokers:               raw.KafkaBrokers,
		KafkaTopicPartial:          raw.KafkaTopicPartial,
		KafkaTopicFinal:            raw.KafkaTopicFinal,
		PushgatewayURL:             raw.PushgatewayURL,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseFlags(raw *envConfig, args []string) error {
	fs := flag.NewFlagSet("kikitori", flag.ContinueOnError)
	fs.StringVar(&raw.Mode, "mode", raw.Mode, "operation mode: stt or tts")
	fs.StringVar(&raw.ServiceAddress, "service-uri", raw.ServiceAddress, "recognition service address (host:port)")
	fs.BoolVar(&raw.Insecure, "insecure", raw.Insecure, "connect without TLS and credentials")
	fs.StringVar(&raw.InputFile, "in-file", raw.InputFile, "audio file to recognize")
	fs.StringVar(&raw.Language, "lang", raw.Language, "recognition language code")
	fs.StringVar(&raw.Model, "model", raw.Model, "recognition model")
	fs.StringVar(&raw.AudioFormat, "audio-format", raw.AudioFormat, "auto, wav, ogg-opus, mp3, flac or linear16-pcm")
	fs.IntVar(&raw.SampleRateHertz, "sample-rate", raw.SampleRateHertz, "sample rate of linear16-pcm audio")
	fs.IntVar(&raw.AudioChannelCount, "audio-channels", raw.AudioChannelCount, "channel count of linear16-pcm audio")
	fs.IntVar(&raw.FrameBytes, "frame-bytes", raw.FrameBytes, "audio frame size in bytes")
	fs.DurationVar(&raw.SessionTimeout, "timeout", raw.SessionTimeout, "overall recognition deadline, 0 for none")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("invalid command-line flags: %w", err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return nil
}
