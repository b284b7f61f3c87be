package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"orderbot/internal/domain"
)

const cliImageCommand = "/imagem"

// CLI implements domain.Channel for a terminal session. It plays a single
// contact; "/imagem <path>" attaches a picture from disk.
type CLI struct {
	chatID      string
	displayName string
	bus         domain.MessageBus
	logger      *slog.Logger
	in          io.Reader
	out         io.Writer
	outMu       sync.Mutex
	readFile    func(string) ([]byte, error)
}

type CLIConfig struct {
	ChatID      string
	DisplayName string
	Logger      *slog.Logger
	In          io.Reader
	Out         io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.ChatID == "" {
		cfg.ChatID = "local"
	}
	return &CLI{
		chatID:      cfg.ChatID,
		displayName: cfg.DisplayName,
		logger:      cfg.Logger,
		in:          cfg.In,
		out:         cfg.Out,
		readFile:    os.ReadFile,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until EOF, /quit or ctx is done.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("cli", func(msg domain.OutboundMessage) {
		c.print("\nBot> %s\nVocê> ", msg.Content)
	})

	c.print("Atendimento de pedidos. Digite sua mensagem e Enter. %s <arquivo> envia uma imagem, /quit sai.\nVocê> ", cliImageCommand)

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			c.print("Você> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		msg := domain.InboundMessage{
			Channel:     "cli",
			ChatID:      c.chatID,
			SenderID:    c.chatID,
			DisplayName: c.displayName,
			Content:     line,
			Timestamp:   time.Now(),
		}
		if path, ok := strings.CutPrefix(line, cliImageCommand); ok {
			img, err := c.readFile(strings.TrimSpace(path))
			if err != nil {
				c.print("Não foi possível ler a imagem: %v\nVocê> ", err)
				continue
			}
			msg.Content = ""
			msg.Image = img
			msg.ImageMime = http.DetectContentType(img)
		}

		if !c.bus.Publish(msg) {
			c.print("Mensagem descartada, tente novamente.\nVocê> ")
		}
	}
}

func (c *CLI) print(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// Stop is a no-op; the REPL exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(_ context.Context, _ string, content string) error {
	c.print("%s\n", content)
	return nil
}
