package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ResponsesAPI is the subset of the upstream client used here.
type ResponsesAPI interface {
	CreateResponse(ctx context.Context, body any) ([]byte, error)
}

// ResponsesClassifier classifies through the hosted /responses endpoint with
// a strict json_schema output format.
type ResponsesClassifier struct {
	API   ResponsesAPI
	Model string
}

func (c *ResponsesClassifier) Classify(ctx context.Context, text, companyName string) (Classification, error) {
	if c == nil || c.API == nil {
		return Classification{}, fmt.Errorf("responses classifier is not configured")
	}
	body := map[string]any{
		"model": c.Model,
		"input": []map[string]any{{
			"type":    "message",
			"role":    "user",
			"content": Prompt(text, companyName),
		}},
		"text": map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   "output_format",
				"schema": OutputSchema(),
				"strict": true,
			},
		},
	}
	raw, err := c.API.CreateResponse(ctx, body)
	if err != nil {
		return Classification{}, err
	}

	var resp struct {
		Output []struct {
			Type    string `json:"type"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"output"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Classification{}, fmt.Errorf("decode classifier response: %w", err)
	}
	var b strings.Builder
	for _, o := range resp.Output {
		if o.Type != "message" {
			continue
		}
		for _, part := range o.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	if b.Len() == 0 {
		return Classification{}, fmt.Errorf("classifier returned no output text")
	}
	return parseClassification(b.String())
}

// GeminiClassifier classifies with a Gemini model using JSON output mode.
type GeminiClassifier struct {
	Client *genai.Client
	Model  string
}

func NewGeminiClassifier(ctx context.Context, apiKey, model, baseURL string) (*GeminiClassifier, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClassifier{Client: client, Model: model}, nil
}

func (g *GeminiClassifier) Classify(ctx context.Context, text, companyName string) (Classification, error) {
	if g == nil || g.Client == nil {
		return Classification{}, fmt.Errorf("gemini classifier is not configured")
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: Prompt(text, companyName)}}}}
	resp, err := g.Client.Models.GenerateContent(ctx, g.Model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: OutputSchema(),
	})
	if err != nil {
		return Classification{}, err
	}
	out := resp.Text()
	if strings.TrimSpace(out) == "" {
		return Classification{}, fmt.Errorf("classifier returned no output text")
	}
	return parseClassification(out)
}
