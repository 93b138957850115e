package parsers

import (
	"fmt"
	"math"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Names of the single-tool schemas bound to the model for structured output.
const (
	ToolSubmitSafety        = "submit_safety_verdict"
	ToolSubmitDraft         = "submit_answer"
	ToolSubmitEvaluation    = "submit_evaluation"
	ToolSubmitHallucination = "submit_hallucination_score"
)

// SafetyVerdict is the input safety classification.
type SafetyVerdict struct {
	Blocked bool `json:"safety_flag_messages"`
}

// DraftOutput is the drafting stage's structured answer.
type DraftOutput struct {
	Answer string `json:"answer"`
	CSV    bool   `json:"csv_export_required"`
	Chart  bool   `json:"chart_image_required"`
	Search bool   `json:"online_search_required"`
}

func (d *DraftOutput) Validate() error {
	d.Answer = strings.TrimSpace(d.Answer)
	if d.Answer == "" {
		return fmt.Errorf("answer is empty")
	}
	return nil
}

// EvaluationOutput is the self-evaluation verdict.
type EvaluationOutput struct {
	Confidence float64 `json:"confidence_score"`
	Feedback   string  `json:"feedback"`
}

func (e *EvaluationOutput) Validate() error {
	if err := checkUnit("confidence_score", e.Confidence); err != nil {
		return err
	}
	e.Feedback = strings.TrimSpace(e.Feedback)
	if strings.EqualFold(e.Feedback, "none") {
		e.Feedback = ""
	}
	return nil
}

// HallucinationOutput is the factuality score.
type HallucinationOutput struct {
	Score float64 `json:"hallucination_score"`
}

func (h *HallucinationOutput) Validate() error {
	return checkUnit("hallucination_score", h.Score)
}

// checkUnit rejects non-numbers. Values slightly outside [0,1] are clamped by
// the state merge; values far outside mean the model misread the scale.
func checkUnit(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s invalid number", name)
	}
	if v < -0.5 || v > 1.5 {
		return fmt.Errorf("%s out of range: %v", name, v)
	}
	return nil
}

var SafetySchema = &schema.ToolInfo{
	Name: ToolSubmitSafety,
	Desc: "Submit the safety verdict for the user message.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"safety_flag_messages": {
			Type:     schema.Boolean,
			Desc:     "true when the message violates the guidelines",
			Required: true,
		},
	}),
}

var DraftSchema = &schema.ToolInfo{
	Name: ToolSubmitDraft,
	Desc: "Submit the answer and the tool requests for this turn.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"answer": {
			Type:     schema.String,
			Desc:     "answer shown to the user",
			Required: true,
		},
		"csv_export_required": {
			Type:     schema.Boolean,
			Desc:     "true when a CSV export should be generated",
			Required: true,
		},
		"chart_image_required": {
			Type:     schema.Boolean,
			Desc:     "true when a chart should be generated",
			Required: true,
		},
		"online_search_required": {
			Type:     schema.Boolean,
			Desc:     "true when an online search should be run",
			Required: true,
		},
	}),
}

var EvaluationSchema = &schema.ToolInfo{
	Name: ToolSubmitEvaluation,
	Desc: "Submit the evaluation of the answer.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"confidence_score": {
			Type:     schema.Number,
			Desc:     "answer quality between 0.0 and 1.0",
			Required: true,
		},
		"feedback": {
			Type:     schema.String,
			Desc:     "short instruction to improve the answer, or None",
			Required: true,
		},
	}),
}

var HallucinationSchema = &schema.ToolInfo{
	Name: ToolSubmitHallucination,
	Desc: "Submit how much of the answer is unsupported by the sources.",
	ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"hallucination_score": {
			Type:     schema.Number,
			Desc:     "0.0 fully supported, 1.0 fabricated",
			Required: true,
		},
	}),
}
