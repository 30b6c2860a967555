// Package vision analyses product photos sent by customers.
package vision

import (
	"context"
	"fmt"
	"net/url"

	contractx "github.com/tanpawarit/Chative-Retail-Agent-Pipeline/agent/contract"
)

type Agent struct {
	describer Describer
}

var _ contractx.Agent = (*Agent)(nil)

func New(describer Describer) *Agent {
	return &Agent{describer: describer}
}

func (a *Agent) Initialize(ctx context.Context) error {
	if a.describer == nil {
		return fmt.Errorf("%w: vision describer is nil", contractx.ErrSetup)
	}
	return nil
}

func (a *Agent) Process(ctx context.Context, env contractx.Envelope) (contractx.Envelope, error) {
	meta := map[string]any{}
	if id := env.CustomerID(); id != "" {
		meta[contractx.MetaCustomerID] = id
	}

	imageURL := env.PayloadString("image_url")
	if imageURL == "" {
		return contractx.ErrorEnvelope("no image provided", meta), nil
	}
	if u, err := url.ParseRequestURI(imageURL); err != nil || u.Host == "" {
		return contractx.ErrorEnvelope("invalid image url", meta), nil
	}

	description, err := a.describer.Describe(ctx, imageURL)
	if err != nil {
		return contractx.Envelope{}, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
	}
	if description == "" {
		return contractx.Envelope{}, fmt.Errorf("%w: image description is empty", contractx.ErrSchemaViolation)
	}

	payload := map[string]any{
		"description": description,
		"features":    extractFeatures(description),
		"image_url":   imageURL,
	}
	if text := env.PayloadString("text"); text != "" {
		payload["text"] = text
	}
	return contractx.NewEnvelope(contractx.KindVisionAnalysis, payload, meta), nil
}
