package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig wires Gemini access.
type GeminiConfig struct {
	APIKey          string
	Model           string
	MaxOutputTokens int
	UseVertex       bool
	Project         string
	Location        string
}

// GeminiGenerator calls the Gemini API or Vertex AI.
type GeminiGenerator struct {
	client    *genai.Client
	model     string
	maxTokens int
}

// NewGeminiGenerator returns a Generator backed by Gemini.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	clientCfg := &genai.ClientConfig{}
	if cfg.UseVertex {
		project := strings.TrimSpace(cfg.Project)
		if project == "" {
			project = strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
		}
		if project == "" {
			return nil, errors.New("vertex project id missing")
		}
		location := strings.TrimSpace(cfg.Location)
		if location == "" {
			return nil, errors.New("vertex location missing")
		}
		clientCfg.Project = project
		clientCfg.Location = location
		// NewClient loads application default credentials for Vertex.
		clientCfg.Backend = genai.BackendVertexAI
	} else {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("gemini api key missing")
		}
		clientCfg.APIKey = apiKey
		clientCfg.Backend = genai.BackendGeminiAPI
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model, maxTokens: maxTokens}, nil
}

// Name identifies the backend in logs.
func (g *GeminiGenerator) Name() string { return "gemini" }

// Complete sends the conversation with the SnapQuant system instruction.
func (g *GeminiGenerator) Complete(ctx context.Context, messages []Message) (string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		contents = append(contents, genai.NewContentFromText(msg.Content, roleForMessage(msg.Role)))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(float32(0.7)),
		TopP:              genai.Ptr(float32(0.95)),
		MaxOutputTokens:   int32(g.maxTokens),
	})
	if err != nil {
		return "", err
	}
	output := strings.TrimSpace(resp.Text())
	if output == "" {
		return "", ErrEmptyResponse
	}
	return output, nil
}

func roleForMessage(role string) genai.Role {
	if role == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}
