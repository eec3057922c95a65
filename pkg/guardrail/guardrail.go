// Package guardrail classifies finalized assistant output and reports a
// tripwire when the category is anything other than NONE.
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/vango-go/vai-agents/pkg/metrics"
)

type Category string

const (
	CategoryOffensive Category = "OFFENSIVE"
	CategoryOffBrand  Category = "OFF_BRAND"
	CategoryViolence  Category = "VIOLENCE"
	CategoryNone      Category = "NONE"

	// CategoryUnclassified marks a fail-closed trip after a classifier error.
	CategoryUnclassified Category = "UNCLASSIFIED"
)

// Categories is the closed set a classifier may return.
var Categories = []Category{CategoryOffensive, CategoryOffBrand, CategoryViolence, CategoryNone}

const DefaultTimeout = 10 * time.Second

type Classification struct {
	Category  Category `json:"moderationCategory"`
	Rationale string   `json:"moderationRationale"`
}

type Classifier interface {
	Classify(ctx context.Context, text, companyName string) (Classification, error)
}

type ClassifierFunc func(ctx context.Context, text, companyName string) (Classification, error)

func (f ClassifierFunc) Classify(ctx context.Context, text, companyName string) (Classification, error) {
	return f(ctx, text, companyName)
}

// Outcome is the discriminated pipeline result. Err is set only when the
// classifier failed; TripwireTriggered then reflects FailClosed.
type Outcome struct {
	TripwireTriggered bool
	Classification    Classification
	TestText          string
	Err               error
}

type Pipeline struct {
	Classifier  Classifier
	CompanyName string

	// FailClosed trips the wire when the classifier errors. The default
	// treats classifier errors as a pass.
	FailClosed bool
	Timeout    time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Run classifies text. It never returns an error; failures are reported in
// Outcome.Err.
func (p *Pipeline) Run(ctx context.Context, text string) Outcome {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := Outcome{TestText: text}
	if p.Classifier == nil {
		out.Classification = Classification{Category: CategoryNone}
		return out
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, err := p.Classifier.Classify(ctx, text, p.CompanyName)
	if err == nil {
		err = c.validate()
	}
	if err != nil {
		out.Err = err
		out.TripwireTriggered = p.FailClosed
		if p.FailClosed {
			out.Classification = Classification{Category: CategoryUnclassified, Rationale: "classifier unavailable"}
		} else {
			out.Classification = Classification{Category: CategoryNone}
		}
		p.Metrics.RecordGuardrail(string(out.Classification.Category), "error")
		logger.Warn("guardrail classifier failed", "fail_closed", p.FailClosed, "error", err)
		return out
	}

	out.Classification = c
	out.TripwireTriggered = c.Category != CategoryNone
	outcome := "pass"
	if out.TripwireTriggered {
		outcome = "tripped"
	}
	p.Metrics.RecordGuardrail(string(c.Category), outcome)
	logger.Debug("guardrail classified", "category", c.Category, "tripped", out.TripwireTriggered)
	return out
}

func (c Classification) validate() error {
	for _, known := range Categories {
		if c.Category == known {
			return nil
		}
	}
	return fmt.Errorf("classifier returned unknown category %q", c.Category)
}

// Prompt renders the moderation instructions for text.
func Prompt(text, companyName string) string {
	var b strings.Builder
	b.WriteString("You are an expert at classifying text according to moderation policies. ")
	b.WriteString("Consider the provided message, analyze potential classes from output_classes, and output the best classification. ")
	b.WriteString("Output json, following the provided schema. Keep your analysis and reasoning short and to the point, maximum 2 sentences.\n\n")
	b.WriteString("<info>\n- Company name: ")
	b.WriteString(companyName)
	b.WriteString("\n</info>\n\n<message>\n")
	b.WriteString(text)
	b.WriteString("\n</message>\n\n<output_classes>\n")
	b.WriteString("- OFFENSIVE: Content that includes hate speech, discriminatory language, insults, slurs, or harassment.\n")
	b.WriteString("- OFF_BRAND: Content that discusses competitors in a disparaging way.\n")
	b.WriteString("- VIOLENCE: Content that includes explicit threats, incitement of harm, or graphic descriptions of physical injury or violence.\n")
	b.WriteString("- NONE: If no other classes are appropriate and the message is fine.\n")
	b.WriteString("</output_classes>")
	return b.String()
}

// OutputSchema is the structured-output schema every classifier requests.
func OutputSchema() *jsonschema.Schema {
	enum := make([]any, len(Categories))
	for i, c := range Categories {
		enum[i] = string(c)
	}
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"moderationRationale": {Type: "string"},
			"moderationCategory":  {Type: "string", Enum: enum},
		},
		Required:             []string{"moderationRationale", "moderationCategory"},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

var resolvedOutputSchema = mustResolve(OutputSchema())

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	r, err := s.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return r
}

// parseClassification decodes and validates structured classifier output.
func parseClassification(raw string) (Classification, error) {
	raw = strings.TrimSpace(raw)
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	if err := resolvedOutputSchema.Validate(generic); err != nil {
		return Classification{}, fmt.Errorf("invalid classification: %w", err)
	}
	var c Classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	return c, nil
}
