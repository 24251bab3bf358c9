// Package asr is the ASR provider client and, in adapter.go, the ASR
// Stream Adapter that turns its rolling-window transcriptions into the
// partial/final event stream the Pipeline Orchestrator consumes
// (spec.md §6 "ASR provider contract").
package asr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is the HTTP client for the ASR provider's REST transcription
// endpoints.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New returns a Client with the provider's default request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Resp is the provider's transcription response envelope.
type Resp struct {
	Text string `json:"text"`
}

// pcm16ToWav wraps raw PCM16 mono samples in a minimal WAV container; the
// provider's REST endpoints require a self-describing audio payload.
func pcm16ToWav(pcm []int16, sampleRate int) []byte {
	dataBytes := len(pcm) * 2
	var b bytes.Buffer

	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36+dataBytes))
	b.WriteString("WAVE")

	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate*2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(2))
	_ = binary.Write(&b, binary.LittleEndian, uint16(16))

	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(dataBytes))
	for _, s := range pcm {
		_ = binary.Write(&b, binary.LittleEndian, s)
	}
	return b.Bytes()
}

// TranscribePCM16WithLang transcribes a rolling window of raw PCM16
// samples, optionally hinting the source language.
func (c *Client) TranscribePCM16WithLang(ctx context.Context, pcm []int16, sampleRate int, language string) (string, error) {
	return c.TranscribeWAVContext(ctx, pcm16ToWav(pcm, sampleRate), language)
}

// TranscribeWAVContext transcribes a complete WAV payload, used both by
// the streaming adapter's rolling-window polling and by the recovery
// recognizer's one-shot replay pass. It satisfies recovery.Transcriber.
func (c *Client) TranscribeWAVContext(ctx context.Context, wavData []byte, language string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transcribe", bytes.NewReader(wavData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "audio/wav")
	if language != "" {
		req.Header.Set("x-language", language)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return "", fmt.Errorf("asr status: %s", res.Status)
	}

	var r Resp
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return "", err
	}
	return r.Text, nil
}

// DetectLanguageResponse is the provider's language-detection response.
type DetectLanguageResponse struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// DetectLanguage detects the source language of a WAV payload without a
// language hint.
func (c *Client) DetectLanguage(ctx context.Context, wavData []byte) (DetectLanguageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect-language", bytes.NewReader(wavData))
	if err != nil {
		return DetectLanguageResponse{}, err
	}
	req.Header.Set("Content-Type", "audio/wav")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return DetectLanguageResponse{}, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return DetectLanguageResponse{}, fmt.Errorf("language detection status: %s", res.Status)
	}

	var r DetectLanguageResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return DetectLanguageResponse{}, err
	}
	return r, nil
}
