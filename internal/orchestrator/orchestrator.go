// Package orchestrator wires the Audio Ring Buffer, Partial Tracker,
// Sequence Emitter, Finalization Engine, Forced-Commit Engine, and
// Recovery Recognizer/Merger into the single per-session pipeline
// described in spec.md §4.7. It is the one place that drives the session
// state machine; every other engine package is deliberately ignorant of
// its siblings.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"realtime-caption-translator/internal/asr"
	"realtime-caption-translator/internal/audio"
	"realtime-caption-translator/internal/finalize"
	"realtime-caption-translator/internal/forcedcommit"
	"realtime-caption-translator/internal/grammar"
	"realtime-caption-translator/internal/recovery"
	"realtime-caption-translator/internal/sequence"
	"realtime-caption-translator/internal/tracker"
	"realtime-caption-translator/internal/translate"
)

// continuationWindow bounds the consecutive-final merge law (spec.md
// §4.7): a new final starting within this long of the last emitted final,
// and extending it, replaces that final's row instead of starting a new
// one.
const continuationWindow = 3 * time.Second

// Final is a fully committed segment, handed to the Deps hooks for
// persistence/archival once translation has been dispatched.
type Final struct {
	Text        string
	SeqID       uint64
	CommittedAt time.Time
	Source      string // asr | forced | recovered | merged
}

// Deps are the Session's external collaborators — everything spec.md §1
// calls "out of scope" plumbing the orchestrator merely calls through to.
type Deps struct {
	SessionID  string
	SourceLang string
	Tier       string

	ASR        *asr.StreamAdapter
	Ring       *audio.Ring
	Translator translate.Translator
	Grammar    *grammar.Client
	Recognizer *recovery.Recognizer

	// TargetLanguages returns the current unique set of listener target
	// languages; queried fresh on each commit so joins mid-session are
	// picked up without a restart (teacher's GetUniqueTargetLanguages).
	TargetLanguages func() []string

	// Broadcast hands a stamped message, and per-language translations,
	// to the room for fan-out. It is called from the session goroutine
	// for partials and immediate commits, from timer/recovery goroutines
	// for delayed commits, and from a background goroutine when a
	// partial's translations arrive (a second message reusing the
	// partial's seqId; the first one carries no translations).
	Broadcast func(msg sequence.Message, translations map[string]string)

	// OnFinal is called once per committed segment, after Broadcast, for
	// persistence/archival (internal/store, internal/archive). It must
	// not block the pipeline — callers should make it fire-and-forget.
	OnFinal func(Final)
}

// Session is one host connection's pipeline instance.
type Session struct {
	deps Deps

	tracker        *tracker.Tracker
	seq            *sequence.Emitter
	finalizeEngine *finalize.Engine
	forcedEngine   *forcedcommit.Engine
	grammarCache   *grammar.Cache

	mu             sync.Mutex
	lastFinalText  string
	lastFinalSeqID uint64
	lastFinalAt    time.Time
	haveLastFinal  bool

	partialCancel context.CancelFunc
}

// New returns a Session ready to Run.
func New(deps Deps) *Session {
	return &Session{
		deps:           deps,
		tracker:        tracker.New(),
		seq:            sequence.New(),
		finalizeEngine: finalize.New(),
		forcedEngine:   forcedcommit.New(forcedcommit.DefaultConfig()),
		grammarCache:   grammar.NewCache(20),
	}
}

// Run drives the session's event loop until ctx is cancelled or the ASR
// adapter's event channel closes. ASR events are handled on this
// goroutine; finalization and forced-commit timer callbacks commit from
// their own goroutines, and ForceCommit and Reconfigure run on the
// caller's goroutine, so the engines, the tracker and the session's
// last-final and grammar-cache state are all lock-guarded.
func (s *Session) Run(ctx context.Context) {
	defer s.shutdown()

	events := s.deps.ASR.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ctx, ev)
		}
	}
}

// Reconfigure applies an in-session "init" reset (spec.md §6's init
// frame): the host is opening a new logical stream on the same
// connection rather than reconnecting the socket, so every engine that
// tracks in-flight state is cleared before the new sourceLang/tier/
// translator take effect. The caller is responsible for telling the ASR
// adapter and ring buffer about the reset too (asr.StreamAdapter.
// SetLanguage, audio.Ring.Clear).
func (s *Session) Reconfigure(sourceLang, tier string, translator translate.Translator) {
	s.mu.Lock()
	s.deps.SourceLang = sourceLang
	s.deps.Tier = tier
	s.deps.Translator = translator
	s.haveLastFinal = false
	s.mu.Unlock()

	s.tracker.Reset()
	s.finalizeEngine.Clear()
	s.forcedEngine.Clear()
}

func (s *Session) shutdown() {
	s.finalizeEngine.Clear()
	s.forcedEngine.Clear()
	if s.partialCancel != nil {
		s.partialCancel()
	}
}

func (s *Session) handleEvent(ctx context.Context, ev asr.Event) {
	switch ev.Type {
	case asr.EventPartial:
		s.handlePartial(ctx, ev.Text)
	case asr.EventFinal:
		if ev.Forced {
			s.handleForcedFinal(ctx, ev.Text)
		} else {
			s.handleFinal(ctx, ev.Text)
		}
	case asr.EventError:
		// ASR errors are ignored here: the adapter keeps polling on its
		// next tick, and no warning frame is sent to the client.
	case asr.EventLanguageDetected:
		s.mu.Lock()
		s.deps.SourceLang = ev.Lang
		s.mu.Unlock()
	}
}

// handlePartial implements spec.md §4.7's partial(text) state.
func (s *Session) handlePartial(ctx context.Context, text string) {
	s.tracker.Update(text)
	now := time.Now()

	if s.forcedEngine.HasBuffer() {
		if extended, ok := s.forcedEngine.Extends(text); ok {
			s.forcedEngine.CommitExtended()
			s.commitFinal(ctx, extended, "merged")
			return
		}
	}

	if s.finalizeEngine.HasPending() {
		pending, _ := s.finalizeEngine.Snapshot()
		extends := strings.HasPrefix(tracker.Normalize(text), tracker.Normalize(pending.Text)) && len(text) > len(pending.Text)
		if extends {
			s.finalizeEngine.UpdateText(text)
		} else if s.finalizeEngine.ShouldCommitOnPartial(false, now) {
			if resolved, ok := s.finalizeEngine.ResolveAndCommit(s.tracker); ok {
				s.commitFinal(ctx, resolved, "asr")
			}
		}
	}

	s.emitPartial(ctx, text)
}

// handleFinal implements spec.md §4.7's final(text) state.
func (s *Session) handleFinal(ctx context.Context, text string) {
	if s.forcedEngine.HasBuffer() {
		buf, _ := s.forcedEngine.Snapshot()
		s.forcedEngine.Clear()
		s.commitFinal(ctx, buf.Text, "forced")
	}

	finalText := s.resolveFinalText(text)
	incomplete := !finalize.EndsWithCompleteSentence(finalText) || finalize.IsFalseFinal(finalText)

	_, stillExtends := s.tracker.CheckLongestExtends(finalText, finalize.LongestExtendWithinMs)
	if !stillExtends {
		_, stillExtends = s.tracker.CheckLatestExtends(finalText, finalize.LatestExtendWithinMs)
	}

	if incomplete || stillExtends {
		s.finalizeEngine.Create(finalText, nil, func() {
			if resolved, ok := s.finalizeEngine.ResolveAndCommit(s.tracker); ok {
				s.commitFinal(ctx, resolved, "asr")
			}
		})
		return
	}

	s.commitFinal(ctx, finalText, "asr")
}

// resolveFinalText picks the longest of text itself and any partial that
// extends it, per spec.md §4.7's finalTextToUse computation.
func (s *Session) resolveFinalText(text string) string {
	best := text
	if ext, ok := s.tracker.CheckLongestExtends(best, finalize.LongestExtendWithinMs); ok && len(ext.ExtendedText) > len(best) {
		best = ext.ExtendedText
	}
	if ext, ok := s.tracker.CheckLatestExtends(best, finalize.LatestExtendWithinMs); ok && len(ext.ExtendedText) > len(best) {
		best = ext.ExtendedText
	}
	if merged, ok := tracker.MergeWithOverlap(text, s.tracker.Snapshot().Latest.Text); ok && len(merged) > len(best) {
		best = merged
	}
	return best
}

// handleForcedFinal implements spec.md §4.7's final(text, forced=true)
// state: hand off to the Forced-Commit Engine's two-phase flow.
func (s *Session) handleForcedFinal(ctx context.Context, text string) {
	s.forcedEngine.Create(text, func() {
		s.forcedEngine.RunPhase2(ctx, s.deps.Ring, s.deps.Recognizer, s.deps.SourceLang, func(finalText, source string) {
			s.commitFinal(ctx, finalText, source)
		})
	})
}

// commitFinal applies the consecutive-final merge law, dispatches
// translation, emits the sequenced message, and resets the tracker only
// after the commit (and any dependent recovery) has fully resolved
// (spec.md §9).
func (s *Session) commitFinal(ctx context.Context, text string, source string) {
	if strings.TrimSpace(text) == "" {
		return // empty transcript after merges: drop, never emit (spec.md §7)
	}

	s.mu.Lock()
	seqID := s.seq.Next()
	now := time.Now()
	if s.haveLastFinal && now.Sub(s.lastFinalAt) <= continuationWindow {
		if merged, ok := tracker.MergeWithOverlap(s.lastFinalText, text); ok {
			text = merged
			seqID = s.lastFinalSeqID
		}
	}
	s.lastFinalText = text
	s.lastFinalSeqID = seqID
	s.lastFinalAt = now
	s.haveLastFinal = true
	s.mu.Unlock()

	corrected := s.correct(ctx, text)
	translations := s.translateToAll(ctx, corrected, false)

	data := sequence.MessageData{
		OriginalText:   text,
		CorrectedText:  corrected,
		HasCorrection:  corrected != "" && corrected != text,
		HasTranslation: len(translations) > 0,
	}
	msg := s.seq.BuildMessageWithSeqID(data, false, seqID)
	s.deps.Broadcast(msg, translations)

	if s.deps.OnFinal != nil {
		s.deps.OnFinal(Final{Text: corrected, SeqID: seqID, CommittedAt: now, Source: source})
	}

	s.tracker.Reset()
}

// emitPartial translates the partial against every subscribed language
// asynchronously and emits immediately with the original text — the
// orchestrator never waits on translation before sending a partial
// (spec.md §4.8). A newer partial cancels any translation still in
// flight for the previous one (spec.md §5 cancellation).
func (s *Session) emitPartial(ctx context.Context, text string) {
	data := sequence.MessageData{OriginalText: text}
	msg := s.seq.BuildMessage(data, true)
	s.deps.Broadcast(msg, nil)

	if s.partialCancel != nil {
		s.partialCancel()
	}
	translateCtx, cancel := context.WithCancel(ctx)
	s.partialCancel = cancel

	go func() {
		translations := s.translateToAll(translateCtx, text, true)
		if len(translations) == 0 {
			return
		}
		select {
		case <-translateCtx.Done():
			return // superseded; silently skip per spec.md §7
		default:
		}
		update := sequence.MessageData{OriginalText: text, HasTranslation: true}
		updateMsg := s.seq.BuildMessageWithSeqID(update, true, msg.SeqID)
		s.deps.Broadcast(updateMsg, translations)
	}()
}

// correct runs the bounded grammar-correction cache, falling back to the
// original text on any failure or cache-skip (spec.md §7).
func (s *Session) correct(ctx context.Context, text string) string {
	if s.deps.Grammar == nil {
		return text
	}
	s.mu.Lock()
	cached, ok := s.grammarCache.Get(text)
	s.mu.Unlock()
	if ok {
		return cached
	}
	corrected, err := s.deps.Grammar.Correct(ctx, text, s.deps.SourceLang)
	if err != nil || corrected == "" {
		return text
	}
	s.mu.Lock()
	s.grammarCache.Put(text, corrected)
	s.mu.Unlock()
	if len(corrected) > 3*len(text) {
		return text
	}
	return corrected
}

// translateToAll fans a translation out to every currently-subscribed
// target language; a target equal to the session's source language gets
// the text unchanged, without a translator call.
func (s *Session) translateToAll(ctx context.Context, text string, partial bool) map[string]string {
	if s.deps.Translator == nil || s.deps.TargetLanguages == nil {
		return nil
	}
	langs := s.deps.TargetLanguages()
	if len(langs) == 0 {
		return nil
	}

	results := make(map[string]string, len(langs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, lang := range langs {
		if lang == s.deps.SourceLang {
			mu.Lock()
			results[lang] = text
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			var out string
			var err error
			if partial {
				out, err = s.deps.Translator.TranslatePartial(ctx, text, s.deps.SourceLang, lang, s.deps.SessionID)
			} else {
				out, err = s.deps.Translator.TranslateFinal(ctx, text, s.deps.SourceLang, lang, s.deps.SessionID)
			}
			if err != nil {
				if te, ok := err.(*translate.Error); ok {
					switch te.Kind {
					case translate.ErrCancelled, translate.ErrSkipRequest:
						return // silent skip, spec.md §7
					case translate.ErrEnglishLeak:
						return // silent skip for this partial/final; retry next time
					case translate.ErrTruncated, translate.ErrTimeout:
						// fall back to corrected source text below
					}
				} else {
					return
				}
				out = text
			}
			mu.Lock()
			results[lang] = out
			mu.Unlock()
		}(lang)
	}
	wg.Wait()
	return results
}

// ForceCommit satisfies the client's force_commit inbound message
// (spec.md §6): ask the adapter for an immediate transcription and commit
// it as a final without waiting for silence.
func (s *Session) ForceCommit(ctx context.Context) {
	text, err := s.deps.ASR.ForceCommit(ctx, s.deps.SourceLang)
	if err != nil || strings.TrimSpace(text) == "" {
		return
	}
	s.commitFinal(ctx, text, "asr")
}
