// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the clustering service configuration.
//
// # Description
//
// Load starts from Default(), merges an optional YAML file over it, applies
// environment overrides and validates the result. A .env file in the
// working directory is loaded first so its variables count as environment.
//
// # Environment Variables
//
//   - OPENAI_API_KEY, OPENAI_BASE_URL, ANTHROPIC_API_KEY, OLLAMA_BASE_URL
//   - SOLGRAPH_LLM_PROVIDER, SOLGRAPH_EMBEDDING_PROVIDER
//   - SOLGRAPH_ADDR, SOLGRAPH_API_TOKEN, SOLGRAPH_LOG_LEVEL, SOLGRAPH_LOG_DIR
//   - SOLGRAPH_DOMAIN, SOLGRAPH_CHAT_MODEL, SOLGRAPH_EMBEDDING_MODEL
//   - SOLGRAPH_VECTOR_BACKEND, SOLGRAPH_WEAVIATE_URL
//   - SOLGRAPH_CACHE_PATH
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/embedcache"
	"github.com/AleutianAI/solgraph/services/clustering/manager"
	"github.com/AleutianAI/solgraph/services/clustering/telemetry"
	"github.com/AleutianAI/solgraph/services/clustering/vectorindex"
)

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// Vector index backends.
const (
	BackendFlat     = "flat"
	BackendWeaviate = "weaviate"
)

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
	EventBuffer     int           `yaml:"event_buffer" validate:"gte=1"`
	// APIToken guards /v1 when set. It is only read from the environment.
	APIToken        string        `yaml:"-"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// LLMConfig selects the chat and embedding providers, their models and the
// retry budget. Anthropic has no embedding endpoint.
type LLMConfig struct {
	Provider            string  `yaml:"provider" validate:"oneof=openai ollama anthropic"`
	EmbeddingProvider   string  `yaml:"embedding_provider" validate:"oneof=openai ollama"`
	// API keys are only read from the environment.
	APIKey              string  `yaml:"-"`
	AnthropicAPIKey     string  `yaml:"-"`
	BaseURL             string  `yaml:"base_url"`
	OllamaURL           string  `yaml:"ollama_url" validate:"required_if=Provider ollama,required_if=EmbeddingProvider ollama"`
	ChatModel           string  `yaml:"chat_model" validate:"required"`
	EmbeddingModel      string  `yaml:"embedding_model" validate:"required"`
	EmbeddingDimensions int     `yaml:"embedding_dimensions" validate:"gte=0"`
	Domain              string  `yaml:"domain" validate:"required"`
	MaxAttempts         int     `yaml:"max_attempts" validate:"gte=1,lte=10"`
	RequestsPerSecond   float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// VectorConfig selects the vector index backend.
type VectorConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=flat weaviate"`
	WeaviateURL string `yaml:"weaviate_url" validate:"required_if=Backend weaviate"`
	ClassName   string `yaml:"class_name" validate:"required_if=Backend weaviate"`
}

// CacheConfig enables the embedding cache.
type CacheConfig struct {
	Enabled bool              `yaml:"enabled"`
	Store   embedcache.Config `yaml:"store"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	LLM       LLMConfig        `yaml:"llm"`
	Vector    VectorConfig     `yaml:"vector"`
	Cache     CacheConfig      `yaml:"cache"`
	Engine    manager.Config   `yaml:"engine"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() Config {
	cache := embedcache.DefaultConfig()
	cache.Path = "~/.solgraph/embeddings"
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			EventBuffer:     256,
		},
		Logging: LoggingConfig{Level: "info"},
		LLM: LLMConfig{
			Provider:            ProviderOpenAI,
			EmbeddingProvider:   ProviderOpenAI,
			ChatModel:           "gpt-4o-mini",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimensions: 256,
			Domain:              collab.DefaultSubjectDomain,
			MaxAttempts:         3,
			RequestsPerSecond:   5,
		},
		Vector: VectorConfig{
			Backend:   BackendFlat,
			ClassName: vectorindex.DefaultClassName,
		},
		Cache:     CacheConfig{Store: cache},
		Engine:    manager.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

var validate = validator.New()

// Load builds the configuration from defaults, path (optional) and the
// environment.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - A read, parse or validation error.
func Load(path string) (*Config, error) {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.LLM.OllamaURL, "OLLAMA_BASE_URL")
	setString(&cfg.LLM.Provider, "SOLGRAPH_LLM_PROVIDER")
	setString(&cfg.LLM.EmbeddingProvider, "SOLGRAPH_EMBEDDING_PROVIDER")
	setString(&cfg.Server.Addr, "SOLGRAPH_ADDR")
	setString(&cfg.Server.APIToken, "SOLGRAPH_API_TOKEN")
	setString(&cfg.Logging.Level, "SOLGRAPH_LOG_LEVEL")
	setString(&cfg.Logging.Dir, "SOLGRAPH_LOG_DIR")
	setString(&cfg.LLM.Domain, "SOLGRAPH_DOMAIN")
	setString(&cfg.LLM.ChatModel, "SOLGRAPH_CHAT_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "SOLGRAPH_EMBEDDING_MODEL")
	setString(&cfg.Vector.Backend, "SOLGRAPH_VECTOR_BACKEND")
	setString(&cfg.Vector.WeaviateURL, "SOLGRAPH_WEAVIATE_URL")
	if v := os.Getenv("SOLGRAPH_CACHE_PATH"); v != "" {
		cfg.Cache.Store.Path = v
		cfg.Cache.Enabled = true
	}
	if v := os.Getenv("SOLGRAPH_EMBEDDING_DIMENSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SOLGRAPH_EMBEDDING_DIMENSIONS: %w", err)
		}
		cfg.LLM.EmbeddingDimensions = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
