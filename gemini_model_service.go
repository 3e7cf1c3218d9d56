package shopassist

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiModelSettings is the per-call model configuration.
type GeminiModelSettings struct {
	GenerationConfig  genai.GenerationConfig
	Tools             []*genai.Tool
	ToolConfig        *genai.ToolConfig
	SystemInstruction *genai.Content
}

// GeminiModelService defines the interface for interacting with the Gemini model.
// History holds every turn before the one being sent in parts.
type GeminiModelService interface {
	GenerateContent(ctx context.Context, settings GeminiModelSettings, history []*genai.Content, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GoogleGeminiService implements GeminiModelService using the genai client.
// A fresh GenerativeModel is configured per call so concurrent requests never share settings.
type GoogleGeminiService struct {
	client    *genai.Client
	modelName string
}

// NewGoogleGeminiService creates a new instance of GoogleGeminiService
func NewGoogleGeminiService(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*GoogleGeminiService, error) {
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GoogleGeminiService{client: client, modelName: modelName}, nil
}

// GenerateContent starts a chat seeded with history and sends parts as the next turn.
func (g *GoogleGeminiService) GenerateContent(ctx context.Context, settings GeminiModelSettings, history []*genai.Content, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.GenerationConfig = settings.GenerationConfig
	model.Tools = settings.Tools
	model.ToolConfig = settings.ToolConfig
	model.SystemInstruction = settings.SystemInstruction

	cs := model.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, parts...)
}

// Close releases the underlying client connection.
func (g *GoogleGeminiService) Close() error {
	return g.client.Close()
}
