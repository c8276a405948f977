// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/config"
	"github.com/AleutianAI/solgraph/services/clustering/embedcache"
	"github.com/AleutianAI/solgraph/services/clustering/events"
	"github.com/AleutianAI/solgraph/services/clustering/manager"
	"github.com/AleutianAI/solgraph/services/clustering/observability"
	"github.com/AleutianAI/solgraph/services/clustering/vectorindex"
	"github.com/AleutianAI/solgraph/services/llm"
)

// engine is the wired manager plus everything that must be closed with it.
type engine struct {
	manager *manager.Manager
	events  *events.Bus
	metrics *observability.Metrics
	cache   *embedcache.Store
}

func (e *engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// buildEngine wires the LLM collaborators, the vector index backend and the
// optional embedding cache into a manager.
func buildEngine(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) (*engine, error) {
	client, rawEmbedder, modelKey, err := buildClients(cfg.LLM)
	if err != nil {
		return nil, err
	}

	policy := llm.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.LLM.MaxAttempts
	policy.RequestsPerSecond = cfg.LLM.RequestsPerSecond
	limiter := llm.NewLimiter(policy)
	chat := llm.NewRetryingClient(client, policy, limiter, logger)

	e := &engine{}
	var embedder collab.Embedder = llm.NewRetryingEmbedder(rawEmbedder, policy, limiter, logger)
	if cfg.Cache.Enabled {
		storeCfg := cfg.Cache.Store
		storeCfg.Path = expandHome(storeCfg.Path)
		storeCfg.Logger = logger.With("component", "embedcache")
		store, err := embedcache.Open(storeCfg)
		if err != nil {
			return nil, err
		}
		e.cache = store
		embedder = embedcache.New(store, embedder, modelKey)
		logger.Info("embedding cache enabled", "path", storeCfg.Path, "in_memory", storeCfg.InMemory)
	}

	indexes, err := buildIndexFactory(ctx, cfg.Vector, logger)
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	collabs := collab.NewLLMCollaborators(chat, cfg.LLM.Domain, logger)
	e.metrics = observability.NewMetrics(reg)
	e.events = events.NewBus(e.metrics)
	e.manager = manager.New(manager.Deps{
		Graph: collab.GraphCollaborators{
			Embedder:      embedder,
			StepJudge:     collabs.StepJudge(),
			SolutionJudge: collabs.SolutionJudge(),
			Splitter:      collabs,
			Summarizer:    collabs,
		},
		Tree: collab.TreeCollaborators{
			Matcher:  collabs,
			Prefixer: collabs,
		},
		Indexes: indexes,
		Metrics: e.metrics,
		Events:  e.events,
		Logger:  logger,
	}, cfg.Engine)
	return e, nil
}

// modelNamer is implemented by embedders that can name their model.
type modelNamer interface {
	EmbeddingModel() string
}

// buildClients creates the chat client and the embedder for the configured
// providers. The returned key namespaces cached embeddings.
func buildClients(cfg config.LLMConfig) (llm.LLMClient, llm.Embedder, string, error) {
	var openaiClient *llm.OpenAIClient
	newOpenAI := func() (*llm.OpenAIClient, error) {
		if openaiClient != nil {
			return openaiClient, nil
		}
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:              cfg.APIKey,
			BaseURL:             cfg.BaseURL,
			Model:               cfg.ChatModel,
			EmbeddingModel:      cfg.EmbeddingModel,
			EmbeddingDimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("create OpenAI client: %w", err)
		}
		openaiClient = c
		return c, nil
	}
	var ollamaClient *llm.OllamaClient
	newOllama := func() (*llm.OllamaClient, error) {
		if ollamaClient != nil {
			return ollamaClient, nil
		}
		c, err := llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:        cfg.OllamaURL,
			Model:          cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, fmt.Errorf("create Ollama client: %w", err)
		}
		ollamaClient = c
		return c, nil
	}

	var chat llm.LLMClient
	var err error
	switch cfg.Provider {
	case config.ProviderOllama:
		chat, err = newOllama()
	case config.ProviderAnthropic:
		chat, err = llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: cfg.AnthropicAPIKey, Model: cfg.ChatModel})
		if err != nil {
			err = fmt.Errorf("create Anthropic client: %w", err)
		}
	default:
		chat, err = newOpenAI()
	}
	if err != nil {
		return nil, nil, "", err
	}

	var embedder llm.Embedder
	switch cfg.EmbeddingProvider {
	case config.ProviderOllama:
		embedder, err = newOllama()
	default:
		embedder, err = newOpenAI()
	}
	if err != nil {
		return nil, nil, "", err
	}
	key := cfg.EmbeddingModel
	if n, ok := embedder.(modelNamer); ok {
		key = n.EmbeddingModel()
	}
	return chat, embedder, key, nil
}

func buildIndexFactory(ctx context.Context, cfg config.VectorConfig, logger *slog.Logger) (vectorindex.Factory, error) {
	switch cfg.Backend {
	case config.BackendWeaviate:
		client, err := vectorindex.NewWeaviateClient(cfg.WeaviateURL)
		if err != nil {
			return nil, fmt.Errorf("create weaviate client: %w", err)
		}
		if err := vectorindex.EnsureSchema(ctx, client, cfg.ClassName); err != nil {
			return nil, err
		}
		logger.Info("using weaviate vector index", "url", cfg.WeaviateURL, "class", cfg.ClassName)
		return vectorindex.WeaviateFactory(client, cfg.ClassName), nil
	default:
		logger.Info("using in-process vector index")
		return vectorindex.FlatFactory, nil
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
