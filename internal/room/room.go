// Package room implements the host/listener fan-out described in
// spec.md §4.10, adapted from the teacher's internal/meeting package: a
// Manager holds one Room per session id, a Room tracks a single host
// connection plus N listener subscriptions each with their own target
// language, and Broadcast fans a sequenced message out to every listener,
// translated per their subscription.
package room

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"realtime-caption-translator/internal/sequence"
	"realtime-caption-translator/internal/wsproto"
)

// Listener is one subscribed viewer of a session's transcript/translation
// stream (teacher's Participant).
type Listener struct {
	ID         string
	TargetLang string
	Conn       *websocket.Conn
}

// Room is the live fan-out target for one session: a single host
// producing sequenced messages, and the listeners subscribed to them.
type Room struct {
	SessionID string
	Host      *websocket.Conn

	mu        sync.RWMutex
	listeners map[string]*Listener
	targets   map[string]bool // cache of unique subscribed target languages
}

// NewRoom returns an empty Room for sessionID.
func NewRoom(sessionID string) *Room {
	return &Room{
		SessionID: sessionID,
		listeners: make(map[string]*Listener),
		targets:   make(map[string]bool),
	}
}

// AddListener subscribes l to the room.
func (r *Room) AddListener(l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[l.ID] = l
	r.targets[l.TargetLang] = true
}

// RemoveListener unsubscribes a listener by id.
func (r *Room) RemoveListener(listenerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, listenerID)
	r.targets = make(map[string]bool)
	for _, l := range r.listeners {
		r.targets[l.TargetLang] = true
	}
}

// IsEmpty reports whether the room has no listeners left. The host alone
// does not keep a room non-empty for this purpose — callers decide
// session lifetime from the host connection separately.
func (r *Room) IsEmpty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners) == 0
}

// TargetLanguages returns the unique set of languages any listener is
// currently subscribed to — the orchestrator's Deps.TargetLanguages hook.
func (r *Room) TargetLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.targets))
	for lang := range r.targets {
		langs = append(langs, lang)
	}
	return langs
}

// Broadcast fans a sequenced message out to every listener, substituting
// each listener's own translation (when one exists in translations) for
// Translation/TranslatedText before marshaling.
func (r *Room) Broadcast(msg sequence.Message, translations map[string]string) {
	r.mu.RLock()
	listeners := make([]*Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.RUnlock()

	for _, l := range listeners {
		if l.Conn == nil {
			continue
		}
		out := wsproto.OutboundMessage{
			Type:            wsproto.OutTranslation,
			SeqID:           msg.SeqID,
			ServerTimestamp: msg.ServerTimestamp.UnixMilli(),
			IsPartial:       msg.IsPartial,
			OriginalText:    msg.OriginalText,
			CorrectedText:   msg.CorrectedText,
			HasCorrection:   msg.HasCorrection,
			HasTranslation:  msg.HasTranslation,
			UpdateType:      msg.UpdateType,
			ForceFinal:      msg.ForceFinal,
			Transcript:      msg.Transcript,
			Translation:     msg.Translation,
		}
		if translated, ok := translations[l.TargetLang]; ok {
			out.Translation = translated
			out.TranslatedText = translated
			out.HasTranslation = true
		}

		data, err := json.Marshal(out)
		if err != nil {
			log.Printf("room %s: marshal message for listener %s: %v", r.SessionID, l.ID, err)
			continue
		}
		if err := l.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("room %s: write to listener %s: %v", r.SessionID, l.ID, err)
		}
	}
}

// BroadcastRaw sends a pre-built frame (session_ready, warning, error,
// pong) to every listener unchanged, bypassing per-listener translation.
func (r *Room) BroadcastRaw(out wsproto.OutboundMessage) {
	data, err := json.Marshal(out)
	if err != nil {
		log.Printf("room %s: marshal raw message: %v", r.SessionID, err)
		return
	}
	r.mu.RLock()
	listeners := make([]*Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.RUnlock()
	for _, l := range listeners {
		if l.Conn == nil {
			continue
		}
		if err := l.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("room %s: write raw to listener %s: %v", r.SessionID, l.ID, err)
		}
	}
}

// Manager owns every active Room, keyed by session id (teacher's
// RoomManager, one Room per meeting).
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the Room for sessionID, creating it if absent.
func (m *Manager) GetOrCreate(sessionID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[sessionID]
	if !ok {
		r = NewRoom(sessionID)
		m.rooms[sessionID] = r
		log.Printf("room: created session %s", sessionID)
	}
	return r
}

// Get returns the Room for sessionID, or nil if none exists.
func (m *Manager) Get(sessionID string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[sessionID]
}

// End removes a room entirely, closing every remaining listener
// connection. Called when the host disconnects (spec.md §4.10).
func (m *Manager) End(sessionID string) {
	m.mu.Lock()
	r, ok := m.rooms[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, sessionID)
	m.mu.Unlock()

	r.BroadcastRaw(wsproto.OutboundMessage{Type: wsproto.OutWarning, Code: "session_ended"})

	r.mu.RLock()
	listeners := make([]*Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.RUnlock()
	for _, l := range listeners {
		if l.Conn != nil {
			l.Conn.Close()
		}
	}
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}
