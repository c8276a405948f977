package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
	"github.com/AleutianAI/solgraph/services/clustering/collab/collabtest"
	"github.com/AleutianAI/solgraph/services/clustering/config"
	"github.com/AleutianAI/solgraph/services/clustering/manager"
	"github.com/AleutianAI/solgraph/services/clustering/vectorindex"
	"github.com/AleutianAI/solgraph/services/llm"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadSubmissions(t *testing.T) {
	in := strings.NewReader(`{"assignment_id":"hw1","solution_uid":"s1","solution_text":"a\nb","final_answer":"4","correct_answer":" 4 "}

{"assignment_id":"hw1","solution_uid":"s2","solution_text":"c","is_correct":true}
`)
	subs, err := readSubmissions(in)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "a\nb", subs[0].Text)
	assert.True(t, subs[0].IsCorrect())
	assert.True(t, subs[1].IsCorrect())
}

func TestReadSubmissions_Errors(t *testing.T) {
	_, err := readSubmissions(strings.NewReader(`{"assignment_id":"hw1"}`))
	assert.ErrorContains(t, err, "line 1")

	_, err = readSubmissions(strings.NewReader("{}\nnot json"))
	assert.Error(t, err)
}

func TestWriteStructures(t *testing.T) {
	m := manager.New(manager.Deps{
		Graph: collab.GraphCollaborators{
			Embedder:      collabtest.NewEmbedder(),
			StepJudge:     collabtest.SameText(),
			SolutionJudge: collabtest.SameText(),
			Splitter:      collabtest.LineSplitter(),
			Summarizer:    collabtest.Echo(),
		},
		Tree: collab.TreeCollaborators{
			Matcher:  collabtest.NoMatch(),
			Prefixer: collabtest.WordPrefix(),
		},
	}, manager.DefaultConfig())
	_, err := m.IngestBatch(context.Background(), []manager.Submission{
		{AssignmentID: "hw2", UID: "b", Text: "y"},
		{AssignmentID: "hw1", UID: "a", Text: "x"},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeStructures(&buf, m))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var first assignmentOutput
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "hw1", first.AssignmentID)
	require.NotNil(t, first.Graph)
	require.NotNil(t, first.Tree)
	assert.Equal(t, "a", first.Graph.Submissions[0].UID)
}

func TestBuildIndexFactory_Flat(t *testing.T) {
	f, err := buildIndexFactory(context.Background(), config.VectorConfig{Backend: config.BackendFlat}, discardLogger())
	require.NoError(t, err)
	idx, err := f(context.Background(), "hw1/steps")
	require.NoError(t, err)
	assert.IsType(t, &vectorindex.FlatL2{}, idx)
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/grader")
	assert.Equal(t, "/home/grader/cache", expandHome("~/cache"))
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
}

func TestBuildClients(t *testing.T) {
	t.Run("ollama for both", func(t *testing.T) {
		chat, emb, key, err := buildClients(config.LLMConfig{
			Provider:          config.ProviderOllama,
			EmbeddingProvider: config.ProviderOllama,
			OllamaURL:         "http://localhost:11434",
			ChatModel:         "llama3.1",
			EmbeddingModel:    "nomic-embed-text",
		})
		require.NoError(t, err)
		assert.Same(t, chat, emb)
		assert.Equal(t, "ollama/nomic-embed-text", key)
	})

	t.Run("anthropic chat with ollama embeddings", func(t *testing.T) {
		chat, _, _, err := buildClients(config.LLMConfig{
			Provider:          config.ProviderAnthropic,
			EmbeddingProvider: config.ProviderOllama,
			AnthropicAPIKey:   "secret",
			OllamaURL:         "http://localhost:11434",
			ChatModel:         "claude-test",
			EmbeddingModel:    "nomic-embed-text",
		})
		require.NoError(t, err)
		assert.IsType(t, &llm.AnthropicClient{}, chat)
	})

	t.Run("ollama without url", func(t *testing.T) {
		t.Setenv("OLLAMA_BASE_URL", "")
		_, _, _, err := buildClients(config.LLMConfig{
			Provider:          config.ProviderOllama,
			EmbeddingProvider: config.ProviderOllama,
		})
		assert.Error(t, err)
	})
}
