package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"orderbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// telegramAPI is the part of *tgbotapi.BotAPI the channel uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Telegram implements domain.Channel for a Telegram bot. Text and photos are
// forwarded; photos arrive with their caption as the message text.
type Telegram struct {
	token     string
	allowFrom []int64 // empty allows everyone
	maxMedia  int

	bot     telegramAPI
	bus     domain.MessageBus
	client  *http.Client
	logger  *slog.Logger
	backoff func(attempt int) time.Duration
}

type TelegramConfig struct {
	Token         string
	AllowFrom     []string
	MaxMediaBytes int
	Logger        *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		maxMedia:  cfg.MaxMediaBytes,
		client:    &http.Client{Timeout: 60 * time.Second},
		logger:    cfg.Logger,
		backoff:   func(attempt int) time.Duration { return time.Duration(attempt+1) * time.Second },
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)
	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op; polling ends with Start's context. StopReceivingUpdates
// panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(_ context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	userID := m.From.ID
	chatID := m.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", m.From.UserName)
		t.sendMessage(chatID, "Acesso não autorizado.")
		return
	}

	msg := domain.InboundMessage{
		Channel:     "telegram",
		ChatID:      strconv.FormatInt(chatID, 10),
		SenderID:    strconv.FormatInt(userID, 10),
		DisplayName: telegramDisplayName(m.From),
		Content:     strings.TrimSpace(m.Text),
		Timestamp:   time.Unix(int64(m.Date), 0),
	}

	if m.IsCommand() {
		switch m.Command() {
		case "start":
			msg.Content = "oi"
		case "cancelar":
			msg.Content = "0"
		default:
			t.sendMessage(chatID, "Comando desconhecido. Envie /start para começar ou /cancelar para encerrar.")
			return
		}
	}

	if fileID, mime := pickTelegramImage(m); fileID != "" {
		msg.Content = strings.TrimSpace(m.Caption)
		data, gotMime, err := t.download(ctx, fileID)
		if err != nil {
			t.logger.Warn("telegram image download failed", "chat_id", chatID, "err", err)
			t.sendMessage(chatID, "Não consegui baixar a imagem. Tente enviar novamente.")
			return
		}
		if gotMime != "" && isImageMime(gotMime) {
			mime = gotMime
		}
		msg.Image = data
		msg.ImageMime = mime
	}

	if msg.Content == "" && msg.Image == nil {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(msg.Content),
		"image_bytes", len(msg.Image),
	)

	_, _ = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	if !t.bus.Publish(msg) {
		t.logger.Warn("telegram message dropped", "chat_id", chatID)
	}
}

func (t *Telegram) download(ctx context.Context, fileID string) ([]byte, string, error) {
	url, err := t.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve file: %w", err)
	}
	return fetchMedia(ctx, t.client, url, "", t.maxMedia)
}

// pickTelegramImage returns the largest photo size, or an image sent as a
// document.
func pickTelegramImage(m *tgbotapi.Message) (fileID, mime string) {
	if len(m.Photo) > 0 {
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return best.FileID, "image/jpeg"
	}
	if m.Document != nil && isImageMime(m.Document.MimeType) {
		return m.Document.FileID, m.Document.MimeType
	}
	return "", ""
}

func telegramDisplayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.UserName
	}
	return name
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	if text == "" {
		return
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends plain text, backing off on rate limits and transient
// errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}
		if attempt == telegramMaxSendRetries {
			t.logger.Error("telegram send failed after retries", "err", err, "attempts", attempt+1)
			return
		}

		wait := t.backoff(attempt)
		if errStr := err.Error(); strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			wait *= 3
			t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
		} else {
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", wait)
		}
		time.Sleep(wait)
	}
}
