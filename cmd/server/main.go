// Command server is the real-time multilingual speech-relay server
// (spec.md §1). It upgrades a host's microphone WebSocket connection,
// drives the per-session Pipeline Orchestrator, and fans sequenced
// transcript/translation messages out to connected listeners. Grounded
// on the teacher's cmd/server/main.go: same upgrader/CheckOrigin origin
// check, JSON error-response helpers, and getEnv-with-default
// configuration pattern, retargeted from the teacher's meeting/video/RAG
// surface onto the host/listener relay described in spec.md.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"realtime-caption-translator/internal/archive"
	"realtime-caption-translator/internal/asr"
	"realtime-caption-translator/internal/audio"
	"realtime-caption-translator/internal/auth"
	"realtime-caption-translator/internal/grammar"
	"realtime-caption-translator/internal/orchestrator"
	"realtime-caption-translator/internal/recovery"
	"realtime-caption-translator/internal/room"
	"realtime-caption-translator/internal/store"
	"realtime-caption-translator/internal/translate"
	"realtime-caption-translator/internal/tts"
	"realtime-caption-translator/internal/wsproto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
		if allowedOriginsEnv == "" {
			log.Println("WARNING: ALLOWED_ORIGINS not set - allowing all origins (development mode)")
			return true
		}

		origin := r.Header.Get("Origin")
		for _, allowed := range strings.Split(allowedOriginsEnv, ",") {
			if strings.TrimSpace(allowed) == origin {
				return true
			}
		}

		log.Printf("rejected websocket connection from unauthorized origin: %s", origin)
		return false
	},
}

func sendJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func sendUnauthorized(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusUnauthorized, message)
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusBadRequest, message)
}

func sendNotFound(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusNotFound, message)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// deps bundles the long-lived collaborators every new session wires into
// its orchestrator.
type deps struct {
	rooms      *room.Manager
	asrClient  *asr.Client
	recognizer *recovery.Recognizer
	grammar    *grammar.Client
	archive    *archive.Client
	tts        *tts.Client
	verifier   auth.Verifier
	sampleRate int
}

func main() {
	_ = godotenv.Load() // optional .env for local development; no error if absent

	if err := store.Init(); err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer store.Close()

	asrBaseURL := getEnv("ASR_BASE_URL", "http://127.0.0.1:8003")
	translationBaseURL := getEnv("TRANSLATION_BASE_URL", "http://127.0.0.1:8004")
	premiumTranslationBaseURL := getEnv("PREMIUM_TRANSLATION_BASE_URL", translationBaseURL)
	grammarBaseURL := getEnv("GRAMMAR_BASE_URL", "http://127.0.0.1:8007")
	ttsBaseURL := getEnv("TTS_BASE_URL", "http://127.0.0.1:8009")
	sampleRate := 16000

	asrClient := asr.New(asrBaseURL)
	d := &deps{
		rooms:      room.NewManager(),
		asrClient:  asrClient,
		recognizer: recovery.New(asrClient),
		grammar:    grammar.New(grammarBaseURL),
		tts:        tts.New(ttsBaseURL),
		sampleRate: sampleRate,
	}

	if archiveClient, err := archive.NewFromEnv(); err != nil {
		log.Printf("archive disabled: %v", err)
	} else {
		d.archive = archiveClient
	}

	if verifier, err := auth.NewKeycloakVerifierFromEnv(); err != nil {
		log.Printf("host auth disabled: %v", err)
		d.verifier = auth.Disabled{}
	} else {
		d.verifier = verifier
	}

	// translate.ForTier needs a base URL per tier; keep a tiny closure
	// around both so handleHost doesn't need to branch on tier twice.
	translatorFor := func(tier string) translate.Translator {
		if tier == "premium" {
			return translate.ForTier("premium", premiumTranslationBaseURL)
		}
		return translate.ForTier("basic", translationBaseURL)
	}

	http.HandleFunc("/ws/host", func(w http.ResponseWriter, r *http.Request) {
		handleHost(w, r, d, translatorFor)
	})
	http.HandleFunc("/ws/listen", func(w http.ResponseWriter, r *http.Request) {
		handleListen(w, r, d)
	})
	http.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if err := store.HealthCheck(); err != nil {
			status = "degraded"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       status,
			"activeRooms":  d.rooms.ActiveCount(),
			"serverTimeMs": time.Now().UnixMilli(),
		})
	})
	http.HandleFunc("/api/sessions/", func(w http.ResponseWriter, r *http.Request) {
		handleSessionLookup(w, r, d)
	})
	http.HandleFunc("/rooms/", func(w http.ResponseWriter, r *http.Request) {
		handleRoomJoin(w, r, d)
	})
	http.HandleFunc("/api/synthesize", func(w http.ResponseWriter, r *http.Request) {
		handleSynthesize(w, r, d)
	})

	addr := ":" + getEnv("PORT", "8080")
	log.Printf("listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// handleHost upgrades a host's microphone connection, authenticates it,
// and drives its Pipeline Orchestrator for the lifetime of the socket
// (spec.md §5/§6).
func handleHost(w http.ResponseWriter, r *http.Request, d *deps, translatorFor func(string) translate.Translator) {
	sourceLang := r.URL.Query().Get("sourceLang")
	if sourceLang == "" {
		sendBadRequest(w, "sourceLang is required")
		return
	}
	tier := r.URL.Query().Get("tier")
	if tier == "" {
		tier = "basic"
	}

	claims, err := d.verifier.VerifyHost(r.Context(), bearerToken(r))
	if err != nil {
		sendUnauthorized(w, "host authentication failed")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("host upgrade: %v", err)
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	rm := d.rooms.GetOrCreate(sessionID)
	rm.Host = conn

	go func() {
		if err := store.CreateSession(sessionID, claims.Subject, sourceLang, tier); err != nil {
			log.Printf("session %s: create record: %v", sessionID, err)
		}
	}()

	ring := audio.NewRing(3 * time.Second)
	adapter := asr.NewStreamAdapter(d.asrClient, ring, asr.DefaultAdapterConfig(d.sampleRate))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := orchestrator.New(orchestrator.Deps{
		SessionID:       sessionID,
		SourceLang:      sourceLang,
		Tier:            tier,
		ASR:             adapter,
		Ring:            ring,
		Translator:      translatorFor(tier),
		Grammar:         d.grammar,
		Recognizer:      d.recognizer,
		TargetLanguages: rm.TargetLanguages,
		Broadcast:       rm.Broadcast,
		OnFinal:         onFinalHook(sessionID, d),
	})

	adapter.Start(ctx, sourceLang)
	defer adapter.Stop()

	go sess.Run(ctx)

	rm.BroadcastRaw(wsproto.OutboundMessage{Type: wsproto.OutSessionReady, SessionID: sessionID})

	readHostLoop(ctx, conn, ring, sess, adapter, translatorFor, d.sampleRate)

	cancel()
	d.rooms.End(sessionID)
	if err := store.EndSession(sessionID); err != nil {
		log.Printf("session %s: end record: %v", sessionID, err)
	}
}

// onFinalHook persists the final's billing count and, if archival is
// enabled, its archived copy — both fire-and-forget so neither ever
// blocks the pipeline goroutine (spec.md §4.12/§4.13).
func onFinalHook(sessionID string, d *deps) func(orchestrator.Final) {
	return func(f orchestrator.Final) {
		go func() {
			if err := store.IncrementFinalCount(sessionID); err != nil {
				log.Printf("session %s: increment final count: %v", sessionID, err)
			}
		}()
		if d.archive.Enabled() {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				err := d.archive.PutFinal(ctx, archive.ArchivedFinal{
					SessionID:   sessionID,
					SeqID:       f.SeqID,
					Text:        f.Text,
					CommittedAt: f.CommittedAt,
				})
				if err != nil {
					log.Printf("session %s: archive final %d: %v", sessionID, f.SeqID, err)
				}
			}()
		}
	}
}

// readHostLoop decodes inbound frames from the host connection until it
// closes, dispatching them to the ring buffer or the orchestrator.
func readHostLoop(ctx context.Context, conn *websocket.Conn, ring *audio.Ring, sess *orchestrator.Session, adapter *asr.StreamAdapter, translatorFor func(string) translate.Translator, sampleRate int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in wsproto.InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}

		switch in.Type {
		case wsproto.InInit:
			// Re-open/reset the ASR stream in place (spec.md §6) instead
			// of requiring the host to reconnect the socket.
			if in.SourceLang == "" {
				continue
			}
			tier := in.Tier
			if tier == "" {
				tier = "basic"
			}
			ring.Clear()
			adapter.SetLanguage(in.SourceLang)
			sess.Reconfigure(in.SourceLang, tier, translatorFor(tier))
		case wsproto.InAudio:
			raw, err := base64.StdEncoding.DecodeString(in.AudioData)
			if err != nil {
				continue
			}
			ring.Write(audio.BytesToInt16(raw))
		case wsproto.InForceCommit:
			sess.ForceCommit(ctx)
		case wsproto.InPing:
			_ = conn.WriteJSON(wsproto.OutboundMessage{Type: wsproto.OutPong, Timestamp: time.Now().UnixMilli()})
		case wsproto.InAudioEnd:
			return
		}
	}
}

// handleListen upgrades a listener's connection and subscribes it to an
// existing session's fan-out (spec.md §4.10). Listener connections are
// unauthenticated by default, matching the teacher's join-by-room-code
// model.
func handleListen(w http.ResponseWriter, r *http.Request, d *deps) {
	sessionID := r.URL.Query().Get("sessionId")
	targetLang := r.URL.Query().Get("targetLang")
	if sessionID == "" || targetLang == "" {
		sendBadRequest(w, "sessionId and targetLang are required")
		return
	}

	rm := d.rooms.Get(sessionID)
	if rm == nil {
		sendNotFound(w, "session not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("listener upgrade: %v", err)
		return
	}
	defer conn.Close()

	listenerID := uuid.NewString()
	rm.AddListener(&room.Listener{ID: listenerID, TargetLang: targetLang, Conn: conn})
	defer rm.RemoveListener(listenerID)

	// Listener sockets are receive-only from the pipeline's perspective;
	// the read loop exists only to detect disconnection and answer pings.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in wsproto.InboundMessage
		if json.Unmarshal(data, &in) == nil && in.Type == wsproto.InPing {
			_ = conn.WriteJSON(wsproto.OutboundMessage{Type: wsproto.OutPong, Timestamp: time.Now().UnixMilli()})
		}
	}
}

// handleSessionLookup returns a session's billing record. It requires a
// verified host JWT whose subject matches the session's own host
// (spec.md §6: "/sessions/{id} ... requires host JWT").
func handleSessionLookup(w http.ResponseWriter, r *http.Request, d *deps) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if sessionID == "" {
		sendBadRequest(w, "session id is required")
		return
	}

	claims, err := d.verifier.VerifyHost(r.Context(), bearerToken(r))
	if err != nil {
		sendUnauthorized(w, "host authentication failed")
		return
	}

	rec, err := store.GetSession(sessionID)
	if err != nil {
		sendNotFound(w, "session not found")
		return
	}
	if rec.HostSubject != claims.Subject {
		sendUnauthorized(w, "host authentication failed")
		return
	}

	json.NewEncoder(w).Encode(rec)
}

// handleRoomJoin implements the teacher's room-code join flow: given an
// active session's code, it hands back the WebSocket URL a listener
// should connect to for its chosen target language (spec.md §6
// "/rooms/{code}/join").
func handleRoomJoin(w http.ResponseWriter, r *http.Request, d *deps) {
	if r.Method != http.MethodPost {
		sendBadRequest(w, "POST required")
		return
	}

	code, rest, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/rooms/"), "/")
	if !ok || rest != "join" || code == "" {
		sendNotFound(w, "unknown room route")
		return
	}

	if d.rooms.Get(code) == nil {
		sendNotFound(w, "room not found")
		return
	}

	var body struct {
		TargetLang string `json:"targetLang"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TargetLang == "" {
		sendBadRequest(w, "targetLang is required")
		return
	}

	joinURL := fmt.Sprintf("/ws/listen?sessionId=%s&targetLang=%s",
		url.QueryEscape(code), url.QueryEscape(body.TargetLang))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"joinURL": joinURL,
	})
}

// handleSynthesize is the listener-opt-in TTS route (spec.md §1/§6's
// "out of scope... wireable" TTS collaborator): given committed caption
// text and a target language, it returns synthesized audio bytes
// base64-encoded in the JSON response.
func handleSynthesize(w http.ResponseWriter, r *http.Request, d *deps) {
	if r.Method != http.MethodPost {
		sendBadRequest(w, "POST required")
		return
	}

	var body struct {
		Text                 string `json:"text"`
		Language             string `json:"language"`
		ReferenceAudioBase64 string `json:"referenceAudioBase64,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" || body.Language == "" {
		sendBadRequest(w, "text and language are required")
		return
	}

	var (
		audioData []byte
		err       error
	)
	if body.ReferenceAudioBase64 != "" {
		var ref []byte
		ref, err = base64.StdEncoding.DecodeString(body.ReferenceAudioBase64)
		if err != nil {
			sendBadRequest(w, "referenceAudioBase64 is not valid base64")
			return
		}
		audioData, err = d.tts.SynthesizeWithVoice(r.Context(), body.Text, body.Language, ref)
	} else {
		audioData, err = d.tts.Synthesize(r.Context(), body.Text, body.Language)
	}
	if err != nil {
		sendJSONError(w, http.StatusBadGateway, "synthesis failed")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"audio":   base64.StdEncoding.EncodeToString(audioData),
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return r.URL.Query().Get("token")
}
