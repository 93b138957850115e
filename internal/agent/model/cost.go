package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing is the USD price per 1M text tokens.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

var modelPricing = map[string]Pricing{
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.0-flash":      {InputPerM: 0.10, OutputPerM: 0.40},
}

// PricingFor looks up a model's price. Unknown models are free.
func PricingFor(modelName string) Pricing {
	return modelPricing[modelName]
}

// Cost prices one call's token usage.
func (p Pricing) Cost(usage *schema.TokenUsage) float64 {
	if usage == nil {
		return 0
	}
	return (p.InputPerM*float64(usage.PromptTokens) + p.OutputPerM*float64(usage.CompletionTokens)) / 1e6
}

// MessageCost prices the usage reported on a model response.
func MessageCost(modelName string, msg *schema.Message) float64 {
	if msg == nil || msg.ResponseMeta == nil {
		return 0
	}
	return PricingFor(modelName).Cost(msg.ResponseMeta.Usage)
}
