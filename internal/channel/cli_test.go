package channel

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"orderbot/internal/bus"
	"orderbot/internal/domain"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestCLI_PublishesLinesAndImages(t *testing.T) {
	out := &syncBuffer{}
	cli := NewCLI(CLIConfig{
		ChatID:      "balcao",
		DisplayName: "Carla",
		Logger:      testLogger(),
		In:          strings.NewReader("oi\n\n/imagem /tmp/logo.png\n/imagem /nope.png\n/quit\nignored\n"),
		Out:         out,
	})
	png := []byte("\x89PNG\r\n\x1a\n0000")
	cli.readFile = func(path string) ([]byte, error) {
		if path == "/tmp/logo.png" {
			return png, nil
		}
		return nil, errors.New("no such file")
	}

	b := bus.New(10, testLogger())
	if err := cli.Start(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	if b.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", b.Pending())
	}
	first := <-b.Subscribe()
	if first.Content != "oi" || first.ContactID() != "cli:balcao" || first.DisplayName != "Carla" {
		t.Errorf("unexpected first message: %+v", first)
	}
	second := <-b.Subscribe()
	if !bytes.Equal(second.Image, png) || second.ImageMime != "image/png" || second.Content != "" {
		t.Errorf("unexpected image message: content=%q mime=%q", second.Content, second.ImageMime)
	}
	if !strings.Contains(out.String(), "Não foi possível ler a imagem") {
		t.Errorf("missing read error in output: %q", out.String())
	}
}

func TestCLI_PrintsReplies(t *testing.T) {
	out := &syncBuffer{}
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader(""), Out: out})
	b := bus.New(10, testLogger())
	if err := cli.Start(context.Background(), b); err != nil {
		t.Fatal(err)
	}

	b.SendOutbound(domain.OutboundMessage{Channel: "cli", ChatID: "local", Content: "Olá! Informe o cliente."})
	if !strings.Contains(out.String(), "Bot> Olá! Informe o cliente.") {
		t.Errorf("reply not printed: %q", out.String())
	}
}

func TestCLI_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: strings.NewReader("oi\n"), Out: &syncBuffer{}})
	b := bus.New(10, testLogger())
	if err := cli.Start(ctx, b); err != nil {
		t.Fatal(err)
	}
	if b.Pending() != 0 {
		t.Error("nothing should be published after cancel")
	}
}
