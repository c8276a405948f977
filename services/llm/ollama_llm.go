package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("solgraph.llm")

// OllamaConfig selects the Ollama server and models.
type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
}

type OllamaClient struct {
	httpClient     *http.Client
	baseURL        string
	model          string
	embeddingModel string
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message   Message `json:"message"`
	CreatedAt string  `json:"created_at"`
	Done      bool    `json:"done"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient builds a chat + embedding client for an Ollama server.
// Empty fields fall back to OLLAMA_BASE_URL, OLLAMA_MODEL and
// OLLAMA_EMBEDDING_MODEL.
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OLLAMA_MODEL")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = os.Getenv("OLLAMA_EMBEDDING_MODEL")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("OLLAMA_BASE_URL environment variable not set")
	}
	if cfg.Model == "" {
		slog.Warn("OLLAMA_MODEL not set, defaulting to llama3.1")
		cfg.Model = "llama3.1"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing Ollama client", "base_url", baseURL, "model", cfg.Model,
		"embedding_model", cfg.EmbeddingModel)
	return &OllamaClient{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		baseURL:        baseURL,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
	}, nil
}

// Generate implements the LLMClient interface through /api/chat.
func (o *OllamaClient) Generate(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	options := map[string]interface{}{"temperature": float32(0.2), "top_p": float32(0.9)}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}
	if len(params.Stop) > 0 {
		options["stop"] = params.Stop
	}

	var resp ollamaChatResponse
	err := o.post(ctx, span, "/api/chat", ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Message.Role != "assistant" {
		slog.Warn("Ollama chat response message role was not 'assistant'", "role", resp.Message.Role)
	}
	return resp.Message.Content, nil
}

// Embed implements the Embedder interface through /api/embed.
func (o *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.embeddingModel))

	var resp ollamaEmbedResponse
	if err := o.post(ctx, span, "/api/embed", ollamaEmbedRequest{
		Model: o.embeddingModel,
		Input: []string{text},
	}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("Ollama returned no embedding")
	}
	return resp.Embeddings[0], nil
}

// EmbeddingModel names the embedding model, used as a cache namespace.
func (o *OllamaClient) EmbeddingModel() string {
	return "ollama/" + o.embeddingModel
}

func (o *OllamaClient) post(ctx context.Context, span trace.Span, path string, payload, out interface{}) error {
	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fail(fmt.Errorf("failed to marshal request to Ollama: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("failed to create request to Ollama: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("Ollama API call failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("failed to read response body from Ollama: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound {
			var errResp struct {
				Error string `json:"error"`
			}
			if json.Unmarshal(respBody, &errResp) == nil && strings.Contains(errResp.Error, "not found") {
				return fail(fmt.Errorf("model not found, please run 'ollama pull': %s", errResp.Error))
			}
		}
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode, "path", path)
		return fail(fmt.Errorf("Ollama failed with status %d: %s", resp.StatusCode, string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fail(fmt.Errorf("failed to parse Ollama response: %w", err))
	}
	return nil
}
