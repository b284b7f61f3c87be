package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"orderbot/internal/config"
)

func TestRenderServiceLinux(t *testing.T) {
	sf, err := renderService("linux", "/home/ana", "/usr/local/bin/orderbot", "/etc/orderbot.json")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join("/home/ana", ".config", "systemd", "user", "orderbot.service")
	if sf.Path != want {
		t.Errorf("path = %s, want %s", sf.Path, want)
	}
	if !strings.Contains(sf.Content, "ExecStart=/usr/local/bin/orderbot gateway --config /etc/orderbot.json") {
		t.Errorf("unit missing ExecStart:\n%s", sf.Content)
	}
	if strings.Contains(sf.Content, "{{") {
		t.Error("unit has unreplaced placeholders")
	}
	if sf.LogDir != "" {
		t.Errorf("systemd logs go to the journal, got log dir %q", sf.LogDir)
	}
}

func TestRenderServiceDarwin(t *testing.T) {
	sf, err := renderService("darwin", "/Users/ana", "/opt/orderbot", "/Users/ana/.orderbot/config.json")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(sf.Path) != launchdLabel+".plist" {
		t.Errorf("path = %s", sf.Path)
	}
	for _, s := range []string{"<string>/opt/orderbot</string>", "<string>gateway</string>", launchdLabel, "gateway-error.log"} {
		if !strings.Contains(sf.Content, s) {
			t.Errorf("plist missing %q", s)
		}
	}
	if sf.LogDir != filepath.Join("/Users/ana", ".orderbot", "logs") {
		t.Errorf("log dir = %s", sf.LogDir)
	}
}

func TestRenderServiceUnsupported(t *testing.T) {
	if _, err := renderService("windows", "C:\\", "orderbot.exe", "config.json"); err == nil {
		t.Fatal("expected error for windows")
	}
}

func TestWizardSQLiteWithChannels(t *testing.T) {
	cfg := config.Defaults()
	answers := strings.Join([]string{
		"",        // driver
		"",        // sqlite file
		"y",       // whatsapp
		"EAAtok",  // access token
		"1234567", // phone number id
		"",        // verify token
		"",        // app secret
		"n",       // telegram
		"sim",     // webhook
		"s3cr3t",  // webhook secret
		"0.0.0.0", // host
		"9090",    // port
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := runWizard(cfg, strings.NewReader(answers), &out); err != nil {
		t.Fatalf("runWizard: %v\n%s", err, out.String())
	}

	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DBPath != "~/.orderbot/orders.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	wa := cfg.Channels.WhatsApp
	if !wa.Enabled || wa.AccessToken != "EAAtok" || wa.PhoneNumberID != "1234567" {
		t.Errorf("whatsapp = %+v", wa)
	}
	if wa.VerifyToken != "${WHATSAPP_VERIFY_TOKEN}" {
		t.Errorf("verify token = %q", wa.VerifyToken)
	}
	if cfg.Channels.Telegram.Enabled {
		t.Error("telegram should stay disabled")
	}
	if !cfg.Channels.Webhook.Enabled || cfg.Channels.Webhook.Secret != "s3cr3t" {
		t.Errorf("webhook = %+v", cfg.Channels.Webhook)
	}
	if cfg.Server.Addr() != "0.0.0.0:9090" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if !strings.Contains(out.String(), "Step 3") {
		t.Error("prompts not written")
	}
}

func TestWizardPostgresAndTelegram(t *testing.T) {
	cfg := config.Defaults()
	answers := "postgres\n\nn\ny\n\n 11, 22 ,\nn\n\n\n"

	if err := runWizard(cfg, strings.NewReader(answers), &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "${ORDERBOT_DSN}" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	tg := cfg.Channels.Telegram
	if !tg.Enabled || tg.Token != "${TELEGRAM_BOT_TOKEN}" {
		t.Errorf("telegram = %+v", tg)
	}
	if len(tg.AllowFrom) != 2 || tg.AllowFrom[0] != "11" || tg.AllowFrom[1] != "22" {
		t.Errorf("allowFrom = %v", tg.AllowFrom)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestWizardRejectsBadPort(t *testing.T) {
	cfg := config.Defaults()
	answers := "\n\nn\nn\nn\n\nhttp\n"
	if err := runWizard(cfg, strings.NewReader(answers), &bytes.Buffer{}); err == nil {
		t.Fatal("expected invalid port error")
	}
}

func TestWizardEOF(t *testing.T) {
	cfg := config.Defaults()
	if err := runWizard(cfg, strings.NewReader("sqlite\n"), &bytes.Buffer{}); err == nil {
		t.Fatal("expected error when input ends early")
	}
}
