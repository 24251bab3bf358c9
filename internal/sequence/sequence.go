// Package sequence stamps every outbound transcript message with a
// strictly monotonic sequence id — the only ordering primitive downstream
// consumers may rely on.
package sequence

import (
	"sync/atomic"
	"time"
)

// MessageData carries the fields buildMessage needs to derive a
// transcript/translation pair; fields left blank fall back per spec.md
// §4.2's derivation rule.
type MessageData struct {
	OriginalText        string
	CorrectedText       string
	TranslatedText      string
	HasCorrection       bool
	HasTranslation      bool
	IsTranscriptionOnly bool
	ForceFinal          bool
	UpdateType          string
}

// Message is a fully stamped, ready-to-send sequenced message.
type Message struct {
	SeqID           uint64
	ServerTimestamp time.Time
	IsPartial       bool
	OriginalText    string
	CorrectedText   string
	TranslatedText  string
	HasCorrection   bool
	HasTranslation  bool
	ForceFinal      bool
	UpdateType      string

	// Transcript is CorrectedText if present, else OriginalText.
	Transcript string
	// Translation is TranslatedText if present, else (for
	// transcription-only sessions) Transcript, else empty.
	Translation string
}

// Emitter owns the per-session seqId counter. It performs no I/O; callers
// hand the built Message to the transport.
type Emitter struct {
	counter uint64
}

// New returns an Emitter whose first Next() call yields 0.
func New() *Emitter {
	return &Emitter{}
}

// Next returns the next seqId and increments the counter.
func (e *Emitter) Next() uint64 {
	return atomic.AddUint64(&e.counter, 1) - 1
}

// BuildMessage stamps data into a Message with a fresh seqId, server
// timestamp, and derived transcript/translation fields.
func (e *Emitter) BuildMessage(data MessageData, isPartial bool) Message {
	return e.BuildMessageWithSeqID(data, isPartial, e.Next())
}

// BuildMessageWithSeqID stamps data with an explicit seqId instead of
// allocating a fresh one. The orchestrator uses this for consecutive-final
// merging (spec.md §4.7), where a continuation final replaces the row of
// the final it extends rather than appending a new one.
func (e *Emitter) BuildMessageWithSeqID(data MessageData, isPartial bool, seqID uint64) Message {
	transcript := data.OriginalText
	if data.CorrectedText != "" {
		transcript = data.CorrectedText
	}

	translation := data.TranslatedText
	if translation == "" && data.IsTranscriptionOnly {
		translation = transcript
	}

	return Message{
		SeqID:           seqID,
		ServerTimestamp: time.Now(),
		IsPartial:       isPartial,
		OriginalText:    data.OriginalText,
		CorrectedText:   data.CorrectedText,
		TranslatedText:  data.TranslatedText,
		HasCorrection:   data.HasCorrection,
		HasTranslation:  data.HasTranslation,
		ForceFinal:      data.ForceFinal,
		UpdateType:      data.UpdateType,
		Transcript:      transcript,
		Translation:     translation,
	}
}
