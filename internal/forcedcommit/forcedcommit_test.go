package forcedcommit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-caption-translator/internal/audio"
	"realtime-caption-translator/internal/recovery"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1200, cfg.Phase1WaitMs)
	assert.Equal(t, 1400, cfg.PreMs)
	assert.Equal(t, 800, cfg.PostMs)
}

func TestCreateStartsPhase1(t *testing.T) {
	e := New(Config{Phase1WaitMs: 50})
	e.Create("the weather is", func() {})

	require.True(t, e.HasBuffer())
	buf, ok := e.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "the weather is", buf.Text)
}

func TestExtendsOnlyDuringPhase1(t *testing.T) {
	e := New(Config{Phase1WaitMs: 50})
	e.Create("the weather is", func() {})

	extended, ok := e.Extends("the weather is nice")
	require.True(t, ok)
	assert.Equal(t, "the weather is nice", extended)

	_, ok = e.Extends("short")
	assert.False(t, ok)

	e.mu.Lock()
	e.phase = phase2
	e.mu.Unlock()
	_, ok = e.Extends("the weather is nice")
	assert.False(t, ok, "extensions are not honored once Phase 2 has started")
}

func TestCommitExtendedClearsBuffer(t *testing.T) {
	e := New(Config{Phase1WaitMs: 50})
	e.Create("the weather is", func() {})
	e.CommitExtended()

	assert.False(t, e.HasBuffer())
}

func TestPhase1TimeoutFiresOnPhase1Elapsed(t *testing.T) {
	done := make(chan struct{})
	e := New(Config{Phase1WaitMs: 10})
	e.Create("the weather is", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onPhase1Elapsed never fired")
	}
}

func TestRunPhase2FallsBackToForcedOnRecoveryFailure(t *testing.T) {
	e := New(Config{Phase1WaitMs: 10, PreMs: 100, PostMs: 100})
	e.Create("the weather is", func() {})

	ring := audio.NewRing(3 * time.Second)
	recognizer := recovery.New(noopTranscriber{})

	done := make(chan struct{})
	var gotText, gotSource string
	e.RunPhase2(context.Background(), ring, recognizer, "en", func(text, source string) {
		gotText, gotSource = text, source
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPhase2 never called onDone")
	}

	assert.Equal(t, "the weather is", gotText)
	assert.Equal(t, "forced", gotSource)
	assert.False(t, e.HasBuffer())
}

type noopTranscriber struct{}

func (noopTranscriber) TranscribeWAVContext(ctx context.Context, wav []byte, language string) (string, error) {
	return "", nil
}
