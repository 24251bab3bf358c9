package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-caption-translator/internal/sequence"
)

type fakeTranslator struct{}

func (fakeTranslator) TranslatePartial(ctx context.Context, text, sourceLang, targetLang, sessionID string) (string, error) {
	return "[" + targetLang + "] " + text, nil
}

func (fakeTranslator) TranslateFinal(ctx context.Context, text, sourceLang, targetLang, sessionID string) (string, error) {
	return "[" + targetLang + "] " + text, nil
}

type broadcastRecorder struct {
	mu   sync.Mutex
	msgs []sequence.Message
}

func (r *broadcastRecorder) record(msg sequence.Message, translations map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *broadcastRecorder) last() sequence.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func (r *broadcastRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func newTestSession(rec *broadcastRecorder, finals *[]Final) *Session {
	var mu sync.Mutex
	return New(Deps{
		SessionID:       "sess-1",
		SourceLang:      "en",
		Translator:      fakeTranslator{},
		TargetLanguages: func() []string { return []string{"es"} },
		Broadcast:       rec.record,
		OnFinal: func(f Final) {
			mu.Lock()
			defer mu.Unlock()
			*finals = append(*finals, f)
		},
	})
}

func TestCommitFinalEmitsSequencedMessage(t *testing.T) {
	rec := &broadcastRecorder{}
	var finals []Final
	s := newTestSession(rec, &finals)

	s.commitFinal(context.Background(), "The weather is nice today.", "asr")

	require.Equal(t, 1, rec.count())
	msg := rec.last()
	assert.Equal(t, "The weather is nice today.", msg.Transcript)
	assert.False(t, msg.IsPartial)
	require.Len(t, finals, 1)
	assert.Equal(t, "asr", finals[0].Source)
}

func TestCommitFinalMergesConsecutiveWithinWindow(t *testing.T) {
	rec := &broadcastRecorder{}
	var finals []Final
	s := newTestSession(rec, &finals)

	s.commitFinal(context.Background(), "the quick brown fox", "asr")
	firstSeq := rec.last().SeqID

	s.commitFinal(context.Background(), "brown fox jumps over the dog", "asr")
	secondMsg := rec.last()

	assert.Equal(t, firstSeq, secondMsg.SeqID, "a continuation final should reuse the prior seqId")
	assert.Equal(t, "the quick brown fox jumps over the dog", secondMsg.Transcript)
}

func TestCommitFinalAllocatesFreshSeqIDOutsideWindow(t *testing.T) {
	rec := &broadcastRecorder{}
	var finals []Final
	s := newTestSession(rec, &finals)

	s.commitFinal(context.Background(), "the quick brown fox", "asr")
	firstSeq := rec.last().SeqID

	s.lastFinalAt = time.Now().Add(-10 * time.Second)
	s.commitFinal(context.Background(), "brown fox jumps over the dog", "asr")

	assert.NotEqual(t, firstSeq, rec.last().SeqID)
}

func TestCommitFinalDropsEmptyText(t *testing.T) {
	rec := &broadcastRecorder{}
	var finals []Final
	s := newTestSession(rec, &finals)

	s.commitFinal(context.Background(), "   ", "asr")

	assert.Equal(t, 0, rec.count())
	assert.Empty(t, finals)
}

func TestHandleFinalCompleteSentenceCommitsImmediately(t *testing.T) {
	rec := &broadcastRecorder{}
	var finals []Final
	s := newTestSession(rec, &finals)

	s.handleFinal(context.Background(), "The weather is nice today.")

	require.Equal(t, 1, rec.count())
	assert.False(t, s.finalizeEngine.HasPending())
}

func TestHandleFinalIncompleteSentenceCreatesPending(t *testing.T) {
	rec := &broadcastRecorder{}
	var finals []Final
	s := newTestSession(rec, &finals)

	s.handleFinal(context.Background(), "the weather is")

	assert.Equal(t, 0, rec.count())
	assert.True(t, s.finalizeEngine.HasPending())
}

func TestHandlePartialEmitsImmediately(t *testing.T) {
	rec := &broadcastRecorder{}
	var finals []Final
	s := newTestSession(rec, &finals)

	s.handlePartial(context.Background(), "the weather")

	// emitPartial sends the partial synchronously, before kicking off its
	// async translation fan-out, so the first recorded message is always
	// the untranslated partial regardless of how fast that goroutine runs.
	require.GreaterOrEqual(t, rec.count(), 1)
	first := rec.msgs[0]
	assert.True(t, first.IsPartial)
	assert.Equal(t, "the weather", first.Transcript)
}
