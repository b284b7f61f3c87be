package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"orderbot/internal/bus"
	"orderbot/internal/config"
	"orderbot/internal/domain"
)

// graphAPI fakes the two Cloud API endpoints the channel calls.
type graphAPI struct {
	mu    sync.Mutex
	sent  []map[string]any
	auths []string
	blob  []byte
}

func (g *graphAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.auths = append(g.auths, r.Header.Get("Authorization"))
	g.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/PHONE/messages":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.sent = append(g.sent, body)
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/media-1":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":       "http://" + r.Host + "/blob/media-1",
			"mime_type": "image/jpeg",
		})
	case r.URL.Path == "/blob/media-1":
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(g.blob)
	default:
		http.NotFound(w, r)
	}
}

func newTestWhatsApp(t *testing.T, secret string) (*WhatsApp, *graphAPI, *bus.InMemoryBus) {
	t.Helper()
	api := &graphAPI{blob: []byte{0xff, 0xd8, 0xff, 0xe0, 1, 2, 3}}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	wa := NewWhatsApp(WhatsAppChannelConfig{
		Config: config.WhatsAppConfig{
			Enabled:       true,
			AppSecret:     secret,
			AccessToken:   "token-123",
			VerifyToken:   "verify-me",
			PhoneNumberID: "PHONE",
			APIBase:       srv.URL,
		},
		MaxMediaBytes: 1024,
		Logger:        testLogger(),
	})
	b := bus.New(10, testLogger())
	if err := wa.Start(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	return wa, api, b
}

func waRequest(t *testing.T, wa *WhatsApp, body, sig string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	if sig != "" {
		req.Header.Set("X-Hub-Signature-256", sig)
	}
	rr := httptest.NewRecorder()
	wa.Handler().ServeHTTP(rr, req)
	return rr
}

func receive(t *testing.T, b *bus.InMemoryBus) domain.InboundMessage {
	t.Helper()
	select {
	case m := <-b.Subscribe():
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
		return domain.InboundMessage{}
	}
}

const waTextPayload = `{"object":"whatsapp_business_account","entry":[{"id":"1","changes":[{"field":"messages","value":{
  "messaging_product":"whatsapp",
  "contacts":[{"wa_id":"5547999990000","profile":{"name":"Carla"}}],
  "messages":[{"from":"5547999990000","id":"m1","type":"text","text":{"body":"oi"}}]}}]}]}`

func TestWhatsApp_Verification(t *testing.T) {
	wa, _, _ := newTestWhatsApp(t, "")

	req := httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=abc", nil)
	rr := httptest.NewRecorder()
	wa.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "abc" {
		t.Errorf("got %d %q", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc", nil)
	rr = httptest.NewRecorder()
	wa.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestWhatsApp_HandlerBeforeStart(t *testing.T) {
	wa := NewWhatsApp(WhatsAppChannelConfig{Logger: testLogger()})
	rr := httptest.NewRecorder()
	wa.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/webhook/whatsapp", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestWhatsApp_TextMessage(t *testing.T) {
	wa, _, b := newTestWhatsApp(t, "")
	if rr := waRequest(t, wa, waTextPayload, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	msg := receive(t, b)
	if msg.Content != "oi" || msg.DisplayName != "Carla" || msg.ContactID() != "whatsapp:5547999990000" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestWhatsApp_Signature(t *testing.T) {
	wa, _, b := newTestWhatsApp(t, "app-secret")

	if rr := waRequest(t, wa, waTextPayload, "sha256=bad"); rr.Code != http.StatusForbidden {
		t.Errorf("bad signature: expected 403, got %d", rr.Code)
	}
	if rr := waRequest(t, wa, waTextPayload, ""); rr.Code != http.StatusForbidden {
		t.Errorf("missing signature: expected 403, got %d", rr.Code)
	}
	if b.Pending() != 0 {
		t.Fatal("rejected requests must not publish")
	}

	if rr := waRequest(t, wa, waTextPayload, sign([]byte(waTextPayload), "app-secret")); rr.Code != http.StatusOK {
		t.Fatalf("valid signature: expected 200, got %d", rr.Code)
	}
	receive(t, b)
}

func TestWhatsApp_BadPayload(t *testing.T) {
	wa, _, _ := newTestWhatsApp(t, "")
	if rr := waRequest(t, wa, "{", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWhatsApp_ImageMessageDownloadsMedia(t *testing.T) {
	wa, api, b := newTestWhatsApp(t, "")
	payload := `{"entry":[{"changes":[{"value":{
  "contacts":[{"wa_id":"5547","profile":{"name":"Carla"}}],
  "messages":[{"from":"5547","id":"m2","type":"image","image":{"id":"media-1","mime_type":"image/jpeg","caption":" arte "}}]}}]}]}`

	if rr := waRequest(t, wa, payload, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	msg := receive(t, b)
	if !bytes.Equal(msg.Image, api.blob) {
		t.Errorf("image bytes = %v", msg.Image)
	}
	if msg.ImageMime != "image/jpeg" || msg.Content != "arte" || msg.DisplayName != "Carla" {
		t.Errorf("unexpected message: mime=%q content=%q name=%q", msg.ImageMime, msg.Content, msg.DisplayName)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	for _, a := range api.auths {
		if a != "Bearer token-123" {
			t.Errorf("authorization = %q", a)
		}
	}
}

func TestWhatsApp_IgnoresUnsupportedTypes(t *testing.T) {
	wa, api, b := newTestWhatsApp(t, "")
	payload := `{"entry":[{"changes":[{"value":{"messages":[
  {"from":"5547","type":"audio"},
  {"from":"5547","type":"document","document":{"id":"d1","mime_type":"application/pdf"}}]}}]}]}`
	if rr := waRequest(t, wa, payload, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	time.Sleep(50 * time.Millisecond)
	if b.Pending() != 0 {
		t.Error("unsupported messages should be ignored")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.auths) != 0 {
		t.Error("no media should be fetched")
	}
}

func TestWhatsApp_OutboundSend(t *testing.T) {
	_, api, b := newTestWhatsApp(t, "")
	b.SendOutbound(domain.OutboundMessage{Channel: "whatsapp", ChatID: "5547", Content: "Olá, Carla!"})

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	body := api.sent[0]
	if body["to"] != "5547" || body["type"] != "text" {
		t.Errorf("unexpected body: %v", body)
	}
	if text, _ := body["text"].(map[string]any); text["body"] != "Olá, Carla!" {
		t.Errorf("unexpected text: %v", body["text"])
	}
}

func TestWhatsApp_SendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	wa := NewWhatsApp(WhatsAppChannelConfig{
		Config: config.WhatsAppConfig{PhoneNumberID: "PHONE", APIBase: srv.URL},
		Logger: testLogger(),
	})
	err := wa.Send(context.Background(), "5547", "oi")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("expected 401 error, got %v", err)
	}
}
