package recovery

import (
	"context"
	"errors"
	"time"
)

// ErrRecoveryUnavailable is returned when the recovery recognizer could
// not produce any result — the replay session never became writable, the
// audio window was empty, or the provider errored outright. Callers must
// treat it as "commit the forced-final text unchanged" (spec.md §7), never
// propagate it as a pipeline failure.
var ErrRecoveryUnavailable = errors.New("recovery: recognizer unavailable")

// Transcriber is the minimal synchronous contract the recovery recognizer
// needs from an ASR provider client: transcribe a complete WAV payload in
// one shot. The primary streaming adapter (internal/asr) satisfies this.
type Transcriber interface {
	TranscribeWAVContext(ctx context.Context, wav []byte, language string) (string, error)
}

// Result is what the recovery recognizer hands back to the Forced-Commit
// Engine. Text is nil when no final transcript could be produced and the
// caller must fall back to the buffered forced-final text unchanged.
type Result struct {
	Text     *string
	Partials []string
}

// Recognizer spins up an independent, short-lived transcription per call
// against a replayed audio window, per spec.md §4.5. It never returns a
// panic or unrecovered error across its boundary — only
// ErrRecoveryUnavailable.
type Recognizer struct {
	transcriber  Transcriber
	timeout      time.Duration
	writablePoll time.Duration
}

// New returns a Recognizer backed by transcriber, using the spec's 5s
// terminal-result timeout.
func New(transcriber Transcriber) *Recognizer {
	return &Recognizer{
		transcriber:  transcriber,
		timeout:      5 * time.Second,
		writablePoll: 2 * time.Second,
	}
}

// Recognize hands wav (the raw PCM16LE bytes the caller already windowed)
// to the transcriber in one independent recognition pass for language
// lang.
func (r *Recognizer) Recognize(ctx context.Context, wav []byte, lang string) (Result, error) {
	if len(wav) == 0 {
		return Result{}, ErrRecoveryUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		// The teacher's ASR client is a stateless REST endpoint — it has
		// no connection to wait "writable" on, so that phase of the
		// contract is satisfied trivially (always ready). A
		// connection-oriented provider would poll here, bounded by
		// writablePoll, before returning ErrRecoveryUnavailable.
		text, err := r.transcriber.TranscribeWAVContext(ctx, wav, lang)
		done <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, ErrRecoveryUnavailable
	case out := <-done:
		if out.err != nil {
			return Result{}, ErrRecoveryUnavailable
		}
		if out.text == "" {
			// No terminal final; a true streaming provider would fall
			// back to its last observed partial. The one-shot REST
			// client has none to offer.
			return Result{}, nil
		}
		return Result{Text: &out.text}, nil
	}
}
