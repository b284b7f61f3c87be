package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"orderbot/internal/config"
	"orderbot/internal/storage"
)

// checkResult tallies doctor checks.
type checkResult struct {
	passed, warned, failed int
}

func (r *checkResult) pass(check, detail string) {
	fmt.Printf("  [PASS] %-22s %s\n", check, detail)
	r.passed++
}

func (r *checkResult) warn(check, detail string) {
	fmt.Printf("  [WARN] %-22s %s\n", check, detail)
	r.warned++
}

func (r *checkResult) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-22s %s\n", check, detail)
	r.failed++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies the configuration, the database and its schema, the order
settings and the channel credentials. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("orderbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r checkResult

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'orderbot init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("config invalid")
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			checkStore(ctx, cfg, &r)
			checkChannels(cfg, &r)

			if cfg.Channels.WhatsApp.Enabled || cfg.Channels.Webhook.Enabled || cfg.Metrics.Enabled {
				if err := checkPort(cfg.Server.Addr()); err != nil {
					r.warn("Server port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
				} else {
					r.pass("Server port", cfg.Server.Addr()+" available")
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before taking orders.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\norderbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! orderbot is ready to take orders.\n")
			}
			return nil
		},
	}
}

// checkStore opens the database (which migrates it) and verifies the data
// the conversation depends on.
func checkStore(ctx context.Context, cfg *config.Config, r *checkResult) {
	store, err := openStore(cfg)
	if err != nil {
		r.fail("Database", err.Error())
		return
	}
	defer store.Close()
	r.pass("Database", string(store.Dialect())+" reachable")

	if v, err := storage.SchemaVersion(store.DB(), store.Dialect()); err != nil {
		r.fail("Schema", err.Error())
	} else if v < storage.LatestSchemaVersion() {
		r.fail("Schema", fmt.Sprintf("version %d, latest %d", v, storage.LatestSchemaVersion()))
	} else {
		r.pass("Schema", fmt.Sprintf("version %d", v))
	}

	key := cfg.Orders.InProductionSettingKey
	if val, found, err := store.GetByKey(ctx, key); err != nil {
		r.fail("In-production setting", err.Error())
	} else if !found {
		r.fail("In-production setting", fmt.Sprintf("setting %q missing; orders cannot be committed", key))
	} else {
		r.pass("In-production setting", fmt.Sprintf("%s=%s", key, val))
	}

	if methods, err := store.Payments().ListVisibleActive(ctx); err != nil {
		r.fail("Payment methods", err.Error())
	} else if len(methods) == 0 {
		r.warn("Payment methods", "none visible and active; orders will have no payment method")
	} else {
		r.pass("Payment methods", fmt.Sprintf("%d available", len(methods)))
	}

	if n, err := store.Products().CountActive(ctx); err != nil {
		r.fail("Products", err.Error())
	} else if n == 0 {
		r.warn("Products", "catalog is empty; run 'orderbot seed'")
	} else {
		r.pass("Products", fmt.Sprintf("%d active", n))
	}
}

func checkChannels(cfg *config.Config, r *checkResult) {
	enabled := 0
	if cfg.Channels.Telegram.Enabled {
		enabled++
		r.pass("Telegram", "token configured")
	}
	if wa := cfg.Channels.WhatsApp; wa.Enabled {
		enabled++
		if wa.AppSecret == "" {
			r.warn("WhatsApp", "appSecret empty; webhook signatures are not verified")
		} else {
			r.pass("WhatsApp", "configured")
		}
		if wa.VerifyToken == "" {
			r.warn("WhatsApp verify", "verifyToken empty; subscription challenge will fail")
		}
	}
	if cfg.Channels.Webhook.Enabled {
		enabled++
		if cfg.Channels.Webhook.Secret == "" {
			r.warn("Webhook", "no secret; requests are not authenticated")
		} else {
			r.pass("Webhook", cfg.Channels.Webhook.Path)
		}
	}
	if enabled == 0 {
		r.warn("Channels", "no gateway channel enabled; only 'orderbot chat' is usable")
	}
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
