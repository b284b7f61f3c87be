package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"orderbot/internal/dispatch"
	"orderbot/internal/domain"
	"orderbot/internal/flow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeProcessor struct {
	mu    sync.Mutex
	got   []domain.InboundMessage
	reply flow.Reply
	err   error
}

func (f *fakeProcessor) ProcessDirect(_ context.Context, msg domain.InboundMessage) (flow.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return f.reply, f.err
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, w *Webhook, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewBufferString(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	w.Handler().ServeHTTP(rr, req)
	return rr
}

func TestVerifyHMAC(t *testing.T) {
	body := []byte(`{"content":"hello"}`)
	if !verifyHMAC(body, "test-secret", sign(body, "test-secret")) {
		t.Error("valid HMAC should verify")
	}
	if verifyHMAC(body, "secret", "sha256=invalid") {
		t.Error("invalid HMAC should not verify")
	}
	if verifyHMAC(body, "secret", "") {
		t.Error("empty signature should not verify")
	}
}

func TestWebhookHandler_ReturnsReply(t *testing.T) {
	proc := &fakeProcessor{reply: flow.Reply{
		Text:           "Pedido 1001 registrado.",
		State:          flow.StateAwaitingMenu,
		OrderFinalized: true,
		OrderID:        1,
		OrderCode:      1001,
	}}
	w := NewWebhook(WebhookConfig{Processor: proc, Logger: testLogger()})

	rr := postWebhook(t, w, `{"chat_id":"erp-7","display_name":"Carla","content":"2"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp WebhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reply != "Pedido 1001 registrado." || !resp.OrderFinalized || resp.OrderCode != 1001 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.State != "awaiting_menu" {
		t.Errorf("state = %q", resp.State)
	}

	if len(proc.got) != 1 {
		t.Fatalf("processor called %d times", len(proc.got))
	}
	msg := proc.got[0]
	if msg.Channel != "webhook" || msg.ChatID != "erp-7" || msg.SenderID != "erp-7" || msg.DisplayName != "Carla" {
		t.Errorf("unexpected inbound: %+v", msg)
	}
	if msg.ContactID() != "webhook:erp-7" {
		t.Errorf("contact id = %q", msg.ContactID())
	}
}

func TestWebhookHandler_Image(t *testing.T) {
	proc := &fakeProcessor{reply: flow.Reply{Text: "ok"}}
	w := NewWebhook(WebhookConfig{Processor: proc, Logger: testLogger()})

	img := []byte("\x89PNG\r\n\x1a\nfake")
	body := `{"chat_id":"c1","image":"` + base64.StdEncoding.EncodeToString(img) + `","image_mime":"image/png"}`
	rr := postWebhook(t, w, body, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !bytes.Equal(proc.got[0].Image, img) || proc.got[0].ImageMime != "image/png" {
		t.Errorf("image not forwarded: %+v", proc.got[0])
	}

	rr = postWebhook(t, w, `{"chat_id":"c1","image":"***"}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad base64: expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandler_Throttled(t *testing.T) {
	proc := &fakeProcessor{err: dispatch.ErrThrottled}
	w := NewWebhook(WebhookConfig{Processor: proc, Logger: testLogger()})

	rr := postWebhook(t, w, `{"chat_id":"c1","content":"oi"}`, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Aguarde") {
		t.Errorf("throttle notice missing: %s", rr.Body.String())
	}
}

func TestWebhookHandler_ProcessorError(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("boom")}
	w := NewWebhook(WebhookConfig{Processor: proc, Logger: testLogger()})
	rr := postWebhook(t, w, `{"chat_id":"c1","content":"oi"}`, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestWebhookHandler_BadRequests(t *testing.T) {
	w := NewWebhook(WebhookConfig{Processor: &fakeProcessor{}, Logger: testLogger()})
	cases := map[string]string{
		"invalid json":    "not json",
		"missing chat id": `{"content":"oi"}`,
		"empty message":   `{"chat_id":"c1","content":""}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if rr := postWebhook(t, w, body, nil); rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	w := NewWebhook(WebhookConfig{Processor: &fakeProcessor{}, Logger: testLogger()})
	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	rr := httptest.NewRecorder()
	w.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebhookHandler_Signature(t *testing.T) {
	proc := &fakeProcessor{reply: flow.Reply{Text: "ok"}}
	w := NewWebhook(WebhookConfig{Secret: "my-secret", Processor: proc, Logger: testLogger()})
	body := `{"chat_id":"c1","content":"hello"}`

	if rr := postWebhook(t, w, body, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("missing signature: expected 401, got %d", rr.Code)
	}
	if rr := postWebhook(t, w, body, map[string]string{"X-Signature-256": "sha256=invalid"}); rr.Code != http.StatusForbidden {
		t.Errorf("invalid signature: expected 403, got %d", rr.Code)
	}
	rr := postWebhook(t, w, body, map[string]string{"X-Signature-256": sign([]byte(body), "my-secret")})
	if rr.Code != http.StatusOK {
		t.Errorf("valid signature: expected 200, got %d", rr.Code)
	}
	if len(proc.got) != 1 {
		t.Errorf("processor called %d times, want 1", len(proc.got))
	}
}

func TestWebhookSend_Unsupported(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testLogger()})
	if err := w.Send(context.Background(), "c1", "x"); err == nil {
		t.Error("expected error")
	}
	if w.Path() != "/api/messages" {
		t.Errorf("default path = %q", w.Path())
	}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short message", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks := splitMessage("", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk for empty, got %d", len(chunks))
	}

	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks do not reassemble to the input")
	}
}

func TestSplitMessage_PrefersNewline(t *testing.T) {
	msg := strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 40)
	chunks := splitMessage(msg, 50)
	if len(chunks) != 2 || chunks[0] != strings.Repeat("a", 40)+"\n" {
		t.Errorf("unexpected split: %q", chunks)
	}
}
