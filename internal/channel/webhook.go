package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"orderbot/internal/dispatch"
	"orderbot/internal/domain"
	"orderbot/internal/flow"
)

// Processor handles one message synchronously; *dispatch.Dispatcher
// satisfies it.
type Processor interface {
	ProcessDirect(ctx context.Context, msg domain.InboundMessage) (flow.Reply, error)
}

type WebhookConfig struct {
	Path      string // default: /api/messages
	Secret    string // HMAC secret; empty disables signature checks
	MaxBody   int64
	Processor Processor
	Logger    *slog.Logger
}

// Webhook is a synchronous JSON endpoint: each POST carries one contact
// message and the response carries the conversation's reply.
type Webhook struct {
	path    string
	secret  string
	maxBody int64
	proc    Processor
	logger  *slog.Logger
}

// WebhookPayload is the request body. Image is base64; either Content or
// Image must be set.
type WebhookPayload struct {
	ChatID      string `json:"chat_id"`
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Content     string `json:"content"`
	Image       string `json:"image,omitempty"`
	ImageMime   string `json:"image_mime,omitempty"`
}

// WebhookResponse mirrors flow.Reply.
type WebhookResponse struct {
	Reply          string `json:"reply"`
	State          string `json:"state,omitempty"`
	OrderFinalized bool   `json:"orderFinalized"`
	OrderID        int64  `json:"orderId,omitempty"`
	OrderCode      int64  `json:"orderCode,omitempty"`
	CommitFailed   bool   `json:"commitFailed,omitempty"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/api/messages"
	}
	if cfg.MaxBody <= 0 {
		// base64 inflates images by a third
		cfg.MaxBody = 16 << 20
	}
	return &Webhook{
		path:    cfg.Path,
		secret:  cfg.Secret,
		maxBody: cfg.MaxBody,
		proc:    cfg.Processor,
		logger:  cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start only registers a sink for outbound traffic; replies travel in the
// HTTP response.
func (w *Webhook) Start(_ context.Context, bus domain.MessageBus) error {
	bus.OnOutbound("webhook", func(msg domain.OutboundMessage) {
		w.logger.Debug("webhook outbound (not forwarded)", "chat_id", msg.ChatID, "content_len", len(msg.Content))
	})
	w.logger.Info("webhook channel ready", "path", w.path)
	return nil
}

func (w *Webhook) Stop() error { return nil }

// Send is unsupported: there is no open connection to push to.
func (w *Webhook) Send(context.Context, string, string) error {
	return errors.New("webhook channel cannot push messages")
}

func (w *Webhook) Path() string { return w.path }

func (w *Webhook) Handler() http.Handler {
	return http.HandlerFunc(w.handleWebhook)
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, w.maxBody))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.ChatID == "" {
		http.Error(rw, "chat_id is required", http.StatusBadRequest)
		return
	}

	msg := domain.InboundMessage{
		Channel:     "webhook",
		ChatID:      payload.ChatID,
		SenderID:    payload.UserID,
		DisplayName: payload.DisplayName,
		Content:     payload.Content,
		ImageMime:   payload.ImageMime,
		Timestamp:   time.Now(),
	}
	if msg.SenderID == "" {
		msg.SenderID = payload.ChatID
	}
	if payload.Image != "" {
		img, err := base64.StdEncoding.DecodeString(payload.Image)
		if err != nil {
			http.Error(rw, "image must be base64", http.StatusBadRequest)
			return
		}
		msg.Image = img
	}
	if msg.Content == "" && msg.Image == nil {
		http.Error(rw, "content or image is required", http.StatusBadRequest)
		return
	}

	w.logger.Info("webhook received",
		"chat_id", payload.ChatID,
		"content_len", len(payload.Content),
		"image_bytes", len(msg.Image),
	)

	reply, err := w.proc.ProcessDirect(r.Context(), msg)
	if errors.Is(err, dispatch.ErrThrottled) {
		writeJSON(rw, http.StatusTooManyRequests, WebhookResponse{Reply: dispatch.ThrottledNotice})
		return
	}
	if err != nil {
		w.logger.Error("webhook processing failed", "chat_id", payload.ChatID, "err", err)
		http.Error(rw, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(rw, http.StatusOK, WebhookResponse{
		Reply:          reply.Text,
		State:          reply.State.String(),
		OrderFinalized: reply.OrderFinalized,
		OrderID:        reply.OrderID,
		OrderCode:      reply.OrderCode,
		CommitFailed:   reply.CommitFailed,
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

// verifyHMAC checks a "sha256=<hex>" signature over body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
