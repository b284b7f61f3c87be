package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"orderbot/internal/config"
)

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Interactive setup: database → channels → server → save config",
		Long: "Guides you through the database, the enabled channels and their credentials, and the\n" +
			"gateway address. Writes config to the path used by --config or the default.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}
			if err := runWizard(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("\nConfig saved to %s\n", cfgPath)
			fmt.Println("Next: orderbot migrate, orderbot seed catalog.yaml, then orderbot gateway.")
			return nil
		},
	}
}

type prompter struct {
	r   *bufio.Reader
	out io.Writer
}

// ask prints label and returns the trimmed answer, or def for an empty line.
func (p *prompter) ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	s := strings.TrimSpace(line)
	if s == "" {
		return def, nil
	}
	return s, nil
}

func (p *prompter) confirm(label string, def bool) (bool, error) {
	d := "n"
	if def {
		d = "y"
	}
	ans, err := p.ask(label+" (y/n)", d)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(ans) {
	case "y", "yes", "s", "sim":
		return true, nil
	default:
		return false, nil
	}
}

// runWizard edits cfg in place from the answers read from in. Secrets may be
// given as ${VAR} references, which Load expands later.
func runWizard(cfg *config.Config, in io.Reader, out io.Writer) error {
	p := &prompter{r: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "\n--- Step 1: Database ---")
	driver, err := p.ask("Driver (sqlite/postgres)", cfg.Storage.Driver)
	if err != nil {
		return err
	}
	cfg.Storage.Driver = strings.ToLower(driver)
	switch cfg.Storage.Driver {
	case "postgres":
		def := cfg.Storage.DSN
		if def == "" {
			def = "${ORDERBOT_DSN}"
		}
		if cfg.Storage.DSN, err = p.ask("Postgres DSN", def); err != nil {
			return err
		}
	default:
		cfg.Storage.Driver = "sqlite"
		if cfg.Storage.DBPath, err = p.ask("SQLite file", cfg.Storage.DBPath); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\n--- Step 2: Channels ---")
	wa := &cfg.Channels.WhatsApp
	if wa.Enabled, err = p.confirm("Enable WhatsApp Cloud API", wa.Enabled); err != nil {
		return err
	}
	if wa.Enabled {
		if wa.AccessToken, err = p.ask("Access token", orDefault(wa.AccessToken, "${WHATSAPP_ACCESS_TOKEN}")); err != nil {
			return err
		}
		if wa.PhoneNumberID, err = p.ask("Phone number id", wa.PhoneNumberID); err != nil {
			return err
		}
		if wa.VerifyToken, err = p.ask("Webhook verify token", orDefault(wa.VerifyToken, "${WHATSAPP_VERIFY_TOKEN}")); err != nil {
			return err
		}
		if wa.AppSecret, err = p.ask("App secret (signature check, empty to skip)", wa.AppSecret); err != nil {
			return err
		}
	}

	tg := &cfg.Channels.Telegram
	if tg.Enabled, err = p.confirm("Enable Telegram", tg.Enabled); err != nil {
		return err
	}
	if tg.Enabled {
		if tg.Token, err = p.ask("Bot token (from @BotFather)", orDefault(tg.Token, "${TELEGRAM_BOT_TOKEN}")); err != nil {
			return err
		}
		allow, err := p.ask("Allowed user ids, comma separated (empty for everyone)", strings.Join(tg.AllowFrom, ","))
		if err != nil {
			return err
		}
		tg.AllowFrom = splitList(allow)
	}

	wh := &cfg.Channels.Webhook
	if wh.Enabled, err = p.confirm("Enable JSON webhook", wh.Enabled); err != nil {
		return err
	}
	if wh.Enabled {
		if wh.Secret, err = p.ask("HMAC secret (empty to skip)", wh.Secret); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\n--- Step 3: Gateway ---")
	if cfg.Server.Host, err = p.ask("Listen host", cfg.Server.Host); err != nil {
		return err
	}
	port, err := p.ask("Listen port", strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	cfg.Server.Port = n

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func splitList(s string) config.FlexStringList {
	var out config.FlexStringList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
