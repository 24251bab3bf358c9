package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIsMonotonic(t *testing.T) {
	e := New()
	assert.Equal(t, uint64(0), e.Next())
	assert.Equal(t, uint64(1), e.Next())
	assert.Equal(t, uint64(2), e.Next())
}

func TestBuildMessageDerivesTranscriptFromCorrected(t *testing.T) {
	e := New()
	msg := e.BuildMessage(MessageData{OriginalText: "helo", CorrectedText: "hello"}, false)
	assert.Equal(t, "hello", msg.Transcript)
}

func TestBuildMessageFallsBackToOriginal(t *testing.T) {
	e := New()
	msg := e.BuildMessage(MessageData{OriginalText: "hello"}, false)
	assert.Equal(t, "hello", msg.Transcript)
}

func TestBuildMessageTranscriptionOnlyMirrorsTranscript(t *testing.T) {
	e := New()
	msg := e.BuildMessage(MessageData{OriginalText: "hello", IsTranscriptionOnly: true}, false)
	assert.Equal(t, "hello", msg.Translation)
}

func TestBuildMessageWithSeqIDReusesGivenID(t *testing.T) {
	e := New()
	first := e.BuildMessage(MessageData{OriginalText: "hello"}, false)
	second := e.BuildMessageWithSeqID(MessageData{OriginalText: "hello world"}, false, first.SeqID)

	assert.Equal(t, first.SeqID, second.SeqID)
	// Next() isn't consumed by BuildMessageWithSeqID, so the counter
	// continues from where it was before the reuse.
	assert.Equal(t, first.SeqID+1, e.Next())
}
