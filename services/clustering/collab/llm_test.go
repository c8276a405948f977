package collab

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/solgraph/services/llm"
)

type cannedClient struct {
	reply string
	err   error
	last  []llm.Message
}

func (c *cannedClient) Generate(_ context.Context, messages []llm.Message, _ llm.GenerationParams) (string, error) {
	c.last = messages
	return c.reply, c.err
}

func TestParseSteps_Markers(t *testing.T) {
	resp := "Here is the breakdown.\n### Step 1: Setup\nLet x be the side.\n### Step 2: Area\nArea is x^2.\n###   \n"
	steps := ParseSteps(resp)
	require.Len(t, steps, 2)
	assert.Equal(t, "Step 1: Setup\nLet x be the side.", steps[0])
	assert.Equal(t, "Step 2: Area\nArea is x^2.", steps[1])
}

func TestParseSteps_HeadingLevelFour(t *testing.T) {
	steps := ParseSteps("#### Only step\nbody")
	require.Len(t, steps, 1)
	assert.Equal(t, "Only step\nbody", steps[0])
}

func TestParseSteps_FallbackWithoutMarkers(t *testing.T) {
	steps := ParseSteps("First paragraph.\n\nSecond paragraph.")
	require.NotEmpty(t, steps)
	joined := strings.Join(steps, " ")
	assert.Contains(t, joined, "First paragraph.")
	assert.Contains(t, joined, "Second paragraph.")
}

func TestParseSteps_Empty(t *testing.T) {
	assert.Empty(t, ParseSteps("###\n###"))
}

func TestSplitSteps_NoStepsIsSplitFailure(t *testing.T) {
	c := NewLLMCollaborators(&cannedClient{reply: "### \n"}, "", nil)
	_, err := c.SplitSteps(context.Background(), "p", "s")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSplit))
}

func TestSplitSteps_ClientErrorIsSplitFailure(t *testing.T) {
	c := NewLLMCollaborators(&cannedClient{err: errors.New("boom")}, "", nil)
	_, err := c.SplitSteps(context.Background(), "p", "s")
	assert.True(t, errors.Is(err, ErrSplit))
	assert.Equal(t, "split_failure", Kind(err))
}

func TestSummarize_PromptUsesDomain(t *testing.T) {
	client := &cannedClient{reply: "  Compute the area.  "}
	c := NewLLMCollaborators(client, "physics", nil)

	out, err := c.Summarize(context.Background(), "area = w*h")
	require.NoError(t, err)
	assert.Equal(t, "Compute the area.", out)
	require.Len(t, client.last, 2)
	assert.Contains(t, client.last[0].Content, "physics problem")
	assert.Equal(t, "physics", c.Domain())
}

func TestSummarize_EmptyReply(t *testing.T) {
	c := NewLLMCollaborators(&cannedClient{reply: "   "}, "", nil)
	_, err := c.Summarize(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrSummarize))
}

func TestParseYesNo(t *testing.T) {
	cases := map[string]bool{"Yes": true, "yes.": true, " \"Yes\"": true, "No": false, "no, different": false}
	for in, want := range cases {
		got, err := ParseYesNo(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseYesNo("")
	assert.True(t, errors.Is(err, ErrOracle))
	_, err = ParseYesNo("maybe")
	assert.True(t, errors.Is(err, ErrOracle))
}

func TestJudges_UseDistinctPrompts(t *testing.T) {
	client := &cannedClient{reply: "Yes"}
	c := NewLLMCollaborators(client, "", nil)

	ok, err := c.StepJudge().Equivalent(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.True(t, ok)
	stepSystem := client.last[0].Content

	_, err = c.SolutionJudge().Equivalent(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.NotEqual(t, stepSystem, client.last[0].Content)
	assert.Contains(t, client.last[0].Content, "exact same ideas")
}

func TestJudge_ClientErrorIsOracleFailure(t *testing.T) {
	c := NewLLMCollaborators(&cannedClient{err: errors.New("down")}, "", nil)
	_, err := c.StepJudge().Equivalent(context.Background(), "a", "b")
	assert.True(t, errors.Is(err, ErrOracle))
}

func TestParseBestMatch(t *testing.T) {
	idx, ok, err := ParseBestMatch("2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	idx, ok, err = ParseBestMatch(" [1] ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)

	idx, ok, err = ParseBestMatch("0. Setup")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok, err = ParseBestMatch("None")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseBestMatch("the first one")
	assert.True(t, errors.Is(err, ErrBestMatchParse))

	_, _, err = ParseBestMatch("")
	assert.True(t, errors.Is(err, ErrBestMatchParse))
}

func TestBestMatch_ListsCandidates(t *testing.T) {
	client := &cannedClient{reply: "1"}
	c := NewLLMCollaborators(client, "", nil)

	idx, ok, err := c.BestMatch(context.Background(), "rest", []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Contains(t, client.last[1].Content, "[0] alpha")
	assert.Contains(t, client.last[1].Content, "[1] beta")
}

func TestParsePrefix(t *testing.T) {
	p, err := ParsePrefix("```json\n{\"shared\": \"A\", \"unshared_a\": \" then B\", \"unshared_b\": \"then C\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, Prefix{Shared: "A", UnsharedA: "then B", UnsharedB: "then C"}, p)

	_, err = ParsePrefix("no object here")
	assert.True(t, errors.Is(err, ErrSharedPrefix))

	_, err = ParsePrefix("{\"shared\": ")
	assert.True(t, errors.Is(err, ErrSharedPrefix))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(ErrEmbed, nil))

	err := Wrap(ErrEmbed, errors.New("timeout"))
	assert.True(t, errors.Is(err, ErrEmbed))
	assert.Equal(t, "embed failure: timeout", err.Error())

	assert.Same(t, err, Wrap(ErrEmbed, err))
}

func TestBestMatch_ClientErrorIsNotParseFailure(t *testing.T) {
	c := NewLLMCollaborators(&cannedClient{err: errors.New("503 upstream")}, "", nil)
	_, _, err := c.BestMatch(context.Background(), "rest", []string{"alpha"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBestMatch))
	assert.False(t, errors.Is(err, ErrBestMatchParse))
	assert.Equal(t, "best_match_failure", Kind(err))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "best_match_parse_failure", Kind(Wrap(ErrBestMatchParse, errors.New("x"))))
	assert.Equal(t, "invalid_index_failure", Kind(Wrap(ErrInvalidIndex, errors.New("x"))))
	assert.Equal(t, "cancelled", Kind(context.Canceled))
	assert.Equal(t, "internal", Kind(errors.New("x")))
}
