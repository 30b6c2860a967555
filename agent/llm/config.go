// Package llm holds the model settings of the stages that call an LLM.
package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.7"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// Per-stage overrides. Empty model, zero tokens and negative temperature
	// keep the shared value.
	DialogModel              string  `envconfig:"DIALOG_MODEL" split_words:"true"`
	DialogTemperature        float32 `envconfig:"DIALOG_TEMPERATURE" split_words:"true" default:"-1"`
	DialogMaxCompletionToken int     `envconfig:"DIALOG_MAX_COMPLETION_TOKEN" split_words:"true"`
	VisionModel              string  `envconfig:"VISION_MODEL" split_words:"true"`
	VisionTemperature        float32 `envconfig:"VISION_TEMPERATURE" split_words:"true" default:"0.2"`
	VisionMaxCompletionToken int     `envconfig:"VISION_MAX_COMPLETION_TOKEN" split_words:"true" default:"500"`
}

type stageOverride struct {
	model       string
	temperature float32
	maxTokens   int
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	if c.MaxCompletionToken < 0 || c.DialogMaxCompletionToken < 0 || c.VisionMaxCompletionToken < 0 {
		return fmt.Errorf("%w: max completion tokens must not be negative", contractx.ErrValidation)
	}
	return nil
}

func (c Config) overrides() map[contractx.Stage]stageOverride {
	return map[contractx.Stage]stageOverride{
		contractx.StageDialog: {c.DialogModel, c.DialogTemperature, c.DialogMaxCompletionToken},
		contractx.StageVision: {c.VisionModel, c.VisionTemperature, c.VisionMaxCompletionToken},
	}
}

// OpenRouterFor resolves the model settings of stage. Stages without
// overrides get the shared settings.
func (c Config) OpenRouterFor(stage contractx.Stage) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature
	maxTokens := c.MaxCompletionToken

	if o, ok := c.overrides()[stage]; ok {
		if v := strings.TrimSpace(o.model); v != "" {
			modelName = v
		}
		if o.temperature >= 0 {
			temp = o.temperature
		}
		if o.maxTokens > 0 {
			maxTokens = o.maxTokens
		}
	}

	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxTokens,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
