package pipeline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes the three pipeline stages. Stage order is fixed:
// recognition, translation, synthesis.
type Config struct {
	SourceLanguage string            `yaml:"source_language"`
	TargetLanguage string            `yaml:"target_language"`
	ASR            RecognitionConfig `yaml:"asr"`
	Translation    TranslationConfig `yaml:"translation"`
	TTS            SynthesisConfig   `yaml:"tts"`
}

type RecognitionConfig struct {
	ServiceID    string `yaml:"service_id"`
	AudioFormat  string `yaml:"audio_format"`
	SamplingRate int    `yaml:"sampling_rate"`
}

type TranslationConfig struct {
	ServiceID string `yaml:"service_id"`
}

type SynthesisConfig struct {
	ServiceID    string `yaml:"service_id"`
	Gender       string `yaml:"gender"`
	SamplingRate int    `yaml:"sampling_rate"`
}

// DefaultConfig transcribes Hindi and speaks the English translation.
func DefaultConfig() Config {
	return Config{
		SourceLanguage: "hi",
		TargetLanguage: "en",
		ASR: RecognitionConfig{
			AudioFormat:  "flac",
			SamplingRate: 16000,
		},
		TTS: SynthesisConfig{
			Gender:       "female",
			SamplingRate: 8000,
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("pipeline: read %s: %w", path, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("pipeline: parse: %w", err)
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	var errs []string
	if c.SourceLanguage == "" {
		errs = append(errs, "source_language is required")
	}
	if c.TargetLanguage == "" {
		errs = append(errs, "target_language is required")
	}
	if c.ASR.SamplingRate <= 0 {
		errs = append(errs, "asr.sampling_rate must be positive")
	}
	if c.TTS.SamplingRate <= 0 {
		errs = append(errs, "tts.sampling_rate must be positive")
	}
	switch c.TTS.Gender {
	case "male", "female":
	default:
		errs = append(errs, fmt.Sprintf("tts.gender %q must be male or female", c.TTS.Gender))
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
