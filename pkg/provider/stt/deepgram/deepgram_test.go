package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mockview/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p := New()

	cfg := stt.StreamConfig{
		SampleRate:     16000,
		Channels:       1,
		Language:       "en",
		InterimResults: true,
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p := New(WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
}

func TestBuildURL_LanguageOverridenByCfg(t *testing.T) {
	// cfg.Language should take precedence over the provider-level default.
	p := New(WithLanguage("en"))

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestAuthorization(t *testing.T) {
	assertEqual(t, "token", "Bearer abc", authorization(stt.Credential{Kind: stt.CredentialToken, Value: "abc"}))
	assertEqual(t, "api key", "Token abc", authorization(stt.Credential{Kind: stt.CredentialAPIKey, Value: "abc"}))
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"start": 1.5,
		"duration": 0.9,
		"channel": {
			"alternatives": [{
				"transcript": "Hello world",
				"confidence": 0.95
			}]
		}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}

	if !tr.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "Hello world", tr.Text)
	if tr.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", tr.Confidence)
	}
	if tr.Timestamp != 1500*time.Millisecond {
		t.Errorf("unexpected timestamp: %v", tr.Timestamp)
	}
	if tr.Duration != 900*time.Millisecond {
		t.Errorf("unexpected duration: %v", tr.Duration)
	}
}

func TestParseDeepgramResponse_Partial(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {"alternatives": [{"transcript": "Hello", "confidence": 0.7}]}
	}`)

	tr, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if tr.IsFinal {
		t.Error("expected IsFinal=false for partial result")
	}
	assertEqual(t, "text", "Hello", tr.Text)
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	tests := map[string]string{
		"metadata":           `{"type":"Metadata","request_id":"abc"}`,
		"empty alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"invalid json":       `{invalid`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(raw)); ok {
				t.Error("expected ok=false")
			}
		})
	}
}

// ---- Constructor tests ----

func TestNew_Defaults(t *testing.T) {
	p := New()
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", deepgramEndpoint, p.endpoint)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

func TestStartStream_EmptyCredential(t *testing.T) {
	_, err := New().StartStream(context.Background(), stt.StreamConfig{})
	if err == nil {
		t.Error("expected error for empty credential")
	}
}

// ---- Streaming against a fake server ----

func TestStartStream_RoundTrip(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotAudio := make(chan []byte, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		typ, data, err := c.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		gotAudio <- data

		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"tell me"}]}}`))
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"tell me about yourself"}]}}`))

		// Wait for CloseStream.
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(data), "CloseStream") {
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	defer srv.Close()

	p := New(WithEndpoint("ws" + strings.TrimPrefix(srv.URL, "http")))
	sess, err := p.StartStream(t.Context(), stt.StreamConfig{
		SampleRate:     16000,
		Channels:       1,
		InterimResults: true,
		Credential:     stt.Credential{Kind: stt.CredentialToken, Value: "tmp-token"},
	})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case auth := <-gotAuth:
		assertEqual(t, "authorization", "Bearer tmp-token", auth)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the handshake")
	}
	select {
	case data := <-gotAudio:
		if len(data) != 4 {
			t.Errorf("server received %d bytes, want 4", len(data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received audio")
	}

	select {
	case tr := <-sess.Partials():
		assertEqual(t, "partial", "tell me", tr.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no partial transcript")
	}
	select {
	case tr := <-sess.Finals():
		assertEqual(t, "final", "tell me about yourself", tr.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no final transcript")
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio([]byte{0}); err != stt.ErrSessionClosed {
		t.Errorf("SendAudio after Close = %v, want ErrSessionClosed", err)
	}
	if _, ok := <-sess.Finals(); ok {
		t.Error("Finals channel not closed after Close")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
