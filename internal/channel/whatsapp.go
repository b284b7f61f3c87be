package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"orderbot/internal/config"
	"orderbot/internal/domain"
)

const (
	whatsappAPIBase   = "https://graph.facebook.com/v21.0"
	whatsappMaxMsgLen = 4096
	whatsappMaxBody   = 1 << 20

	whatsappMediaTimeout = 2 * time.Minute
)

// WhatsApp implements domain.Channel for the WhatsApp Business Cloud API.
// Inbound traffic arrives on the webhook returned by Handler.
type WhatsApp struct {
	cfg      config.WhatsAppConfig
	apiBase  string
	maxMedia int
	bus      domain.MessageBus
	logger   *slog.Logger
	client   *http.Client
	mux      *http.ServeMux
}

type WhatsAppChannelConfig struct {
	Config        config.WhatsAppConfig
	MaxMediaBytes int
	Logger        *slog.Logger
	Client        *http.Client
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	base := strings.TrimRight(cfg.Config.APIBase, "/")
	if base == "" {
		base = whatsappAPIBase
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WhatsApp{
		cfg:      cfg.Config,
		apiBase:  base,
		maxMedia: cfg.MaxMediaBytes,
		logger:   cfg.Logger,
		client:   cfg.Client,
	}
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	bus.OnOutbound("whatsapp", func(msg domain.OutboundMessage) {
		if err := w.sendMessage(ctx, msg.ChatID, msg.Content); err != nil {
			w.logger.Error("whatsapp send failed", "err", err, "chat", msg.ChatID)
		}
	})

	path := w.cfg.WebhookPath
	if path == "" {
		path = "/webhook/whatsapp"
	}
	w.mux = http.NewServeMux()
	w.mux.HandleFunc("GET "+path, w.handleVerification)
	w.mux.HandleFunc("POST "+path, w.handleIncoming)

	w.logger.Info("whatsapp channel ready", "webhook", path)
	return nil
}

func (w *WhatsApp) Stop() error { return nil }

func (w *WhatsApp) Send(ctx context.Context, chatID string, content string) error {
	return w.sendMessage(ctx, chatID, content)
}

// Handler is mounted on the gateway mux. It is NotFound until Start ran.
func (w *WhatsApp) Handler() http.Handler {
	if w.mux == nil {
		return http.NotFoundHandler()
	}
	return w.mux
}

// handleVerification answers the subscription challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	if mode == "subscribe" && w.cfg.VerifyToken != "" && q.Get("hub.verify_token") == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(q.Get("hub.challenge")))
		return
	}
	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, whatsappMaxBody))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	if w.cfg.AppSecret != "" && !w.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		w.logger.Warn("whatsapp invalid signature")
		http.Error(rw, "Forbidden", http.StatusForbidden)
		return
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	// Meta retries deliveries that are not acknowledged quickly; media
	// downloads run in the background.
	var batch []domain.InboundMessage
	var media []waMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				msg := domain.InboundMessage{
					Channel:     "whatsapp",
					ChatID:      m.From,
					SenderID:    m.From,
					DisplayName: names[m.From],
					Timestamp:   time.Now(),
				}
				switch {
				case m.Type == "text" && m.Text != nil:
					msg.Content = m.Text.Body
					batch = append(batch, msg)
				case m.mediaID() != "":
					m.displayName = names[m.From]
					media = append(media, m)
				default:
					w.logger.Debug("whatsapp message type ignored", "type", m.Type, "from", m.From)
				}
			}
		}
	}

	rw.WriteHeader(http.StatusOK)

	for _, msg := range batch {
		w.logger.Info("whatsapp message received", "from", msg.ChatID, "text_len", len(msg.Content))
		w.publish(msg)
	}
	if len(media) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), whatsappMediaTimeout)
		defer cancel()
		for _, m := range media {
			w.publishMedia(ctx, m)
		}
	}()
}

func (w *WhatsApp) publishMedia(ctx context.Context, m waMessage) {
	data, mime, err := w.downloadMedia(ctx, m.mediaID())
	if err != nil {
		w.logger.Warn("whatsapp media download failed", "from", m.From, "err", err)
		_ = w.sendMessage(ctx, m.From, "Não consegui baixar a imagem. Tente enviar novamente.")
		return
	}
	w.logger.Info("whatsapp image received", "from", m.From, "bytes", len(data))
	w.publish(domain.InboundMessage{
		Channel:     "whatsapp",
		ChatID:      m.From,
		SenderID:    m.From,
		DisplayName: m.displayName,
		Content:     m.caption(),
		Image:       data,
		ImageMime:   mime,
		Timestamp:   time.Now(),
	})
}

func (w *WhatsApp) publish(msg domain.InboundMessage) {
	if !w.bus.Publish(msg) {
		w.logger.Warn("whatsapp message dropped", "from", msg.ChatID)
	}
}

// downloadMedia resolves a media id to its URL, then fetches the bytes. Both
// calls need the access token.
func (w *WhatsApp) downloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.apiBase+"/"+mediaID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("resolve media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("resolve media: status %d", resp.StatusCode)
	}
	var info waMediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, "", fmt.Errorf("decode media info: %w", err)
	}
	if info.URL == "" {
		return nil, "", fmt.Errorf("media %s has no url", mediaID)
	}

	data, mime, err := fetchMedia(ctx, w.client, info.URL, w.cfg.AccessToken, w.maxMedia)
	if err != nil {
		return nil, "", err
	}
	if info.MimeType != "" {
		mime = info.MimeType
	}
	return data, mime, nil
}

func (w *WhatsApp) verifySignature(body []byte, signature string) bool {
	expected, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(w.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(computed))
}

func (w *WhatsApp) sendMessage(ctx context.Context, to string, text string) error {
	if text == "" {
		return nil
	}
	for _, chunk := range splitMessage(text, whatsappMaxMsgLen) {
		if err := w.sendText(ctx, to, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (w *WhatsApp) sendText(ctx context.Context, to, text string) error {
	url := fmt.Sprintf("%s/%s/messages", w.apiBase, w.cfg.PhoneNumberID)
	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// --- webhook payload ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From     string   `json:"from"`
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Text     *waText  `json:"text,omitempty"`
	Image    *waMedia `json:"image,omitempty"`
	Document *waMedia `json:"document,omitempty"`

	displayName string
}

func (m waMessage) mediaID() string {
	switch {
	case m.Type == "image" && m.Image != nil:
		return m.Image.ID
	case m.Type == "document" && m.Document != nil && isImageMime(m.Document.MimeType):
		return m.Document.ID
	}
	return ""
}

func (m waMessage) caption() string {
	if m.Image != nil {
		return strings.TrimSpace(m.Image.Caption)
	}
	if m.Document != nil {
		return strings.TrimSpace(m.Document.Caption)
	}
	return ""
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

type waMediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}
