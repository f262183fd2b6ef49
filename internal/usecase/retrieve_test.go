package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"channel-assistant/internal/domain"
)

func passage(score float64, text string) domain.Passage {
	return domain.Passage{Score: score, Text: text, HasText: true}
}

func newTestRetriever(t *testing.T, e Embedder, idx VectorIndex, cfg RetrieverConfig) *Retriever {
	t.Helper()
	r, err := NewRetriever(e, idx, cfg, nil)
	require.NoError(t, err)
	return r
}

func expectCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewRetriever_ValidatesDependencies(t *testing.T) {
	_, err := NewRetriever(nil, &mockIndex{}, RetrieverConfig{}, nil)
	require.Error(t, err)
	_, err = NewRetriever(&mockEmbedder{}, nil, RetrieverConfig{}, nil)
	require.Error(t, err)
}

func TestNewRetriever_Defaults(t *testing.T) {
	r := newTestRetriever(t, &mockEmbedder{}, &mockIndex{}, RetrieverConfig{})
	require.Equal(t, 5, r.cfg.Limit)
	require.Equal(t, 0.75, *r.cfg.RelevanceThreshold)
	require.Equal(t, 30000, r.cfg.SoftCharLimit)
}

func TestRetrieve_EndToEndExample(t *testing.T) {
	emb := &mockEmbedder{vector: []float32{0.1, 0.2}}
	idx := &mockIndex{passages: []domain.Passage{
		passage(0.9, "X is a protocol."),
		passage(0.5, "irrelevant"),
	}}
	r := newTestRetriever(t, emb, idx, RetrieverConfig{})

	out, err := r.Retrieve(context.Background(), RetrievalRequest{
		Text:         "What is X?",
		SystemPrompt: "You are Helper.",
		Collection:   "docs",
	})
	require.NoError(t, err)
	require.Equal(t, "You are Helper.\nX is a protocol.", out.Prompt)
	require.Len(t, out.Included, 1)
	require.Equal(t, "What is X?", emb.lastText)
	require.Equal(t, "docs", idx.lastCollection)
	require.Equal(t, 5, idx.lastLimit)
}

func TestRetrieve_JoinsHistoryBeforeQuestion(t *testing.T) {
	emb := &mockEmbedder{vector: []float32{1}}
	r := newTestRetriever(t, emb, &mockIndex{passages: []domain.Passage{passage(0.8, "ctx")}}, RetrieverConfig{})

	_, err := r.Retrieve(context.Background(), RetrievalRequest{
		History:      []string{"first?", "second?"},
		Text:         "third?",
		SystemPrompt: "sys",
	})
	require.NoError(t, err)
	require.Equal(t, "first?\nsecond?\nthird?", emb.lastText)
}

func TestRetrieve_ThresholdIsStrict(t *testing.T) {
	idx := &mockIndex{passages: []domain.Passage{
		passage(0.75, "at threshold"),
		passage(0.7500001, "just above"),
	}}
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{})

	out, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, "sys\njust above", out.Prompt)
}

func TestRetrieve_ZeroThresholdIsHonoured(t *testing.T) {
	idx := &mockIndex{passages: []domain.Passage{
		passage(0.5, "half"),
		passage(0, "zero"),
	}}
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{RelevanceThreshold: Threshold(0)})
	require.Equal(t, 0.0, *r.cfg.RelevanceThreshold)

	out, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, "sys\nhalf", out.Prompt)
}

func TestRetrieve_NegativeThreshold(t *testing.T) {
	// Chroma scores are 1 - distance and go below zero for distant passages.
	idx := &mockIndex{passages: []domain.Passage{passage(-0.2, "far but allowed")}}
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{RelevanceThreshold: Threshold(-0.5)})

	out, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, "sys\nfar but allowed", out.Prompt)
}

func TestRetrieve_NoRelevantContext(t *testing.T) {
	idx := &mockIndex{passages: []domain.Passage{
		passage(0.75, "a"),
		passage(0.2, "b"),
	}}
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{})

	_, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	expectCode(t, err, ErrorNoRelevantContext, "no_relevant_context")
	require.True(t, IsNoRelevantContext(err))
}

func TestRetrieve_EmptyIndexResult(t *testing.T) {
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, &mockIndex{}, RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	require.True(t, IsNoRelevantContext(err))
}

func TestRetrieve_LowScoresDoNotStopIteration(t *testing.T) {
	idx := &mockIndex{passages: []domain.Passage{
		passage(0.1, "skip"),
		passage(0.9, "keep"),
	}}
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{})

	out, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, "sys\nkeep", out.Prompt)
}

func TestRetrieve_SoftLimitStopsFurtherAppends(t *testing.T) {
	long := strings.Repeat("a", 20)
	idx := &mockIndex{passages: []domain.Passage{
		passage(0.8, long),
		passage(0.99, "better but too late"),
	}}
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{SoftCharLimit: 10})

	out, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	require.NoError(t, err)
	// The first append overshoots the limit; nothing follows it.
	require.Equal(t, "sys\n"+long, out.Prompt)
	require.Len(t, out.Included, 1)
}

func TestRetrieve_SoftLimitCountsCodePoints(t *testing.T) {
	idx := &mockIndex{passages: []domain.Passage{
		passage(0.8, "日本"),
		passage(0.8, "語"),
	}}
	// "sys\n日本" is 6 code points but 10 bytes; a byte count would stop early.
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{SoftCharLimit: 6})

	out, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, "sys\n日本\n語", out.Prompt)
}

func TestRetrieve_SystemPromptAlreadyOverLimit(t *testing.T) {
	idx := &mockIndex{passages: []domain.Passage{passage(0.9, "ctx")}}
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{SoftCharLimit: 2})

	_, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "long prompt", Text: "q"})
	require.True(t, IsNoRelevantContext(err))
}

func TestRetrieve_SkipsPassagesWithoutText(t *testing.T) {
	idx := &mockIndex{passages: []domain.Passage{
		{ID: "p1", Score: 0.95},
		passage(0.8, "has text"),
	}}
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, idx, RetrieverConfig{})

	out, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	require.NoError(t, err)
	require.Equal(t, "sys\nhas text", out.Prompt)
}

func TestRetrieve_EmbeddingErrors(t *testing.T) {
	idx := &mockIndex{}
	r := newTestRetriever(t, &mockEmbedder{err: errBoom}, idx, RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	expectCode(t, err, ErrorEmbedding, "embedding_error")
	require.ErrorIs(t, err, errBoom)

	r = newTestRetriever(t, &mockEmbedder{vector: []float32{}}, idx, RetrieverConfig{})
	_, err = r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	expectCode(t, err, ErrorEmbedding, "empty_embedding")
	require.Zero(t, idx.calls)
}

func TestRetrieve_SearchError(t *testing.T) {
	r := newTestRetriever(t, &mockEmbedder{vector: []float32{1}}, &mockIndex{err: errBoom}, RetrieverConfig{})
	_, err := r.Retrieve(context.Background(), RetrievalRequest{SystemPrompt: "sys", Text: "q"})
	expectCode(t, err, ErrorSearch, "search_error")
}

func TestPreview(t *testing.T) {
	require.Equal(t, "abc", preview("abc", 5))
	require.Equal(t, "日本", preview("日本語", 2))
}
