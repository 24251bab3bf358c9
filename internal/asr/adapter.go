package asr

import (
	"context"
	"strings"
	"sync"
	"time"

	"realtime-caption-translator/internal/audio"
)

// EventType classifies an Event emitted by the StreamAdapter.
type EventType int

const (
	EventPartial EventType = iota
	EventFinal
	EventError
	// EventLanguageDetected fires once, early in the stream, when Start
	// was called with sourceLang "auto" and the provider's detect-language
	// endpoint has returned a result.
	EventLanguageDetected
)

// Event is one ASR provider event: an interim partial, a final (possibly
// forced by the provider's own stream rotation), a transient error, or a
// one-shot language-detection result.
type Event struct {
	Type   EventType
	Text   string
	Lang   string
	Forced bool
	Err    error
}

// AdapterConfig tunes the rolling-window polling adapter.
type AdapterConfig struct {
	SampleRate int
	WindowSize time.Duration
	PollEvery  time.Duration
	// StreamRotateEvery mimics the upstream provider's internal stream
	// rotation (spec.md §4.4): every interval, the next final the
	// adapter would otherwise emit normally is instead marked Forced.
	StreamRotateEvery time.Duration
}

// DefaultAdapterConfig mirrors the teacher's 8-12s rolling window, with
// the ~4 minute provider stream-rotation cadence from spec.md §4.4.
func DefaultAdapterConfig(sampleRate int) AdapterConfig {
	return AdapterConfig{
		SampleRate:        sampleRate,
		WindowSize:        12 * time.Second,
		PollEvery:         300 * time.Millisecond,
		StreamRotateEvery: 4 * time.Minute,
	}
}

// StreamAdapter polls a rolling window of the ASR provider's REST
// transcription endpoint, since the provider exposed to this module has
// no native bidirectional streaming RPC. It turns that polling loop into
// the same partial/final event stream a true streaming client would
// produce, generalizing the teacher's inline poll loop
// (session.Server.HandleConn) into a reusable component.
type StreamAdapter struct {
	client *Client
	ring   *audio.Ring
	cfg    AdapterConfig

	events chan Event
	cancel context.CancelFunc

	langMu      sync.Mutex
	pendingLang string
}

// NewStreamAdapter returns an adapter reading from ring and transcribing
// via client.
func NewStreamAdapter(client *Client, ring *audio.Ring, cfg AdapterConfig) *StreamAdapter {
	return &StreamAdapter{
		client: client,
		ring:   ring,
		cfg:    cfg,
		events: make(chan Event, 16),
	}
}

// Events returns the adapter's event channel; it is closed when Stop is
// called.
func (a *StreamAdapter) Events() <-chan Event {
	return a.events
}

// Start begins polling in a background goroutine for language sourceLang.
// It is idempotent-unsafe: call once per adapter.
func (a *StreamAdapter) Start(ctx context.Context, sourceLang string) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	go a.pollLoop(ctx, sourceLang)
}

// Stop cancels the poll loop and closes the event channel.
func (a *StreamAdapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

// SetLanguage requests that the running poll loop switch to lang on its
// next tick, discarding any in-flight partial — the adapter-level half of
// an "init" reset (spec.md §6): the host is opening a new logical stream
// on the same connection, not reconnecting the socket.
func (a *StreamAdapter) SetLanguage(lang string) {
	a.langMu.Lock()
	a.pendingLang = lang
	a.langMu.Unlock()
}

func (a *StreamAdapter) consumePendingLang() string {
	a.langMu.Lock()
	defer a.langMu.Unlock()
	lang := a.pendingLang
	a.pendingLang = ""
	return lang
}

// ForceCommit requests an immediate transcription of the current window,
// used to satisfy the client's force_commit inbound message (spec.md §6).
func (a *StreamAdapter) ForceCommit(ctx context.Context, sourceLang string) (string, error) {
	window := a.ring.GetRecentBytes(int(a.cfg.WindowSize / time.Millisecond))
	return a.client.TranscribeWAVContext(ctx, pcm16ToWav(audio.BytesToInt16(window), a.cfg.SampleRate), sourceLang)
}

func (a *StreamAdapter) pollLoop(ctx context.Context, sourceLang string) {
	defer close(a.events)

	ticker := time.NewTicker(a.cfg.PollEvery)
	defer ticker.Stop()

	var rotate *time.Ticker
	forcedDue := false
	if a.cfg.StreamRotateEvery > 0 {
		rotate = time.NewTicker(a.cfg.StreamRotateEvery)
		defer rotate.Stop()
	}

	var lastPartial string
	var stableSince time.Time

	lang := sourceLang
	detecting := sourceLang == "auto"

	emit := func(ev Event) {
		select {
		case a.events <- ev:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-rotateChan(rotate):
			forcedDue = true
		case <-ticker.C:
			if newLang := a.consumePendingLang(); newLang != "" {
				lang = newLang
				detecting = newLang == "auto"
				lastPartial = ""
				stableSince = time.Time{}
			}

			window := a.ring.GetRecentBytes(int(a.cfg.WindowSize / time.Millisecond))
			if len(window) < a.cfg.SampleRate*2/4 { // less than 250ms of audio
				continue
			}

			if detecting {
				wav := pcm16ToWav(audio.BytesToInt16(window), a.cfg.SampleRate)
				if resp, err := a.client.DetectLanguage(ctx, wav); err == nil && resp.Language != "" {
					lang = resp.Language
					emit(Event{Type: EventLanguageDetected, Lang: lang})
				}
				detecting = false
			}

			text, err := a.client.TranscribeWAVContext(ctx, pcm16ToWav(audio.BytesToInt16(window), a.cfg.SampleRate), lang)
			if err != nil {
				emit(Event{Type: EventError, Err: err})
				continue
			}
			text = strings.TrimSpace(text)

			if text == "" {
				if lastPartial != "" {
					final := lastPartial
					lastPartial = ""
					stableSince = time.Time{}
					emit(Event{Type: EventFinal, Text: final, Forced: consumeForced(&forcedDue)})
				}
				continue
			}

			if text != lastPartial {
				lastPartial = text
				stableSince = time.Now()
				emit(Event{Type: EventPartial, Text: text})
				continue
			}

			emit(Event{Type: EventPartial, Text: text})
			if !stableSince.IsZero() && time.Since(stableSince) >= 800*time.Millisecond {
				final := lastPartial
				lastPartial = ""
				stableSince = time.Time{}
				emit(Event{Type: EventFinal, Text: final, Forced: consumeForced(&forcedDue)})
			}
		}
	}
}

func rotateChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func consumeForced(forcedDue *bool) bool {
	if *forcedDue {
		*forcedDue = false
		return true
	}
	return false
}
