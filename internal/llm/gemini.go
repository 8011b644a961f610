package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/agenthands/alignoracle/internal/core/model"
)

type GeminiBackend struct {
	client *genai.Client
}

func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiBackend{client: client}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Close() error { return b.client.Close() }

func (b *GeminiBackend) Submit(ctx context.Context, req Request) (*Response, error) {
	system, user := splitMessages(req.Messages)

	gm := b.client.GenerativeModel(req.Model)
	gm.SetTemperature(req.Sampling.Temperature)
	if req.Sampling.TopP > 0 {
		gm.SetTopP(req.Sampling.TopP)
	}
	if req.Sampling.MaxTokens > 0 {
		gm.SetMaxOutputTokens(int32(req.Sampling.MaxTokens))
	}
	if req.Format.Structured() {
		gm.ResponseMIMEType = "application/json"
		gm.ResponseSchema = geminiSchema(req.Format)
	}
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	resp, err := gm.GenerateContent(ctx, genai.Text(user))
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, newError(ErrTransport, b.Name(), 0, fmt.Errorf("no response candidates or content"))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	out := &Response{Text: sb.String(), Model: req.Model}
	if resp.UsageMetadata != nil {
		out.Usage = tokenUsage(int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount))
	}
	return out, nil
}

func (b *GeminiBackend) classify(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return classifyStatus(b.Name(), gErr.Code, err)
	}
	return classifyTransport(b.Name(), err)
}

func geminiSchema(f OutputFormat) *genai.Schema {
	s := &genai.Schema{Type: genai.TypeObject, Properties: make(map[string]*genai.Schema)}
	for _, fl := range f.fields() {
		kind := genai.TypeBoolean
		if fl.kind == "string" {
			kind = genai.TypeString
		}
		s.Properties[fl.name] = &genai.Schema{Type: kind}
		s.Required = append(s.Required, fl.name)
	}
	return s
}

func tokenUsage(in, out int) model.TokenUsage {
	return model.TokenUsage{InputTokens: in, OutputTokens: out}
}
