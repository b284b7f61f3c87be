package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"orderbot/internal/export"
	"orderbot/internal/flow"
	"orderbot/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer closeLog()

			// Open migrates.
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			v, err := storage.SchemaVersion(store.DB(), store.Dialect())
			if err != nil {
				return err
			}
			fmt.Printf("Schema version %d (latest %d)\n", v, storage.LatestSchemaVersion())
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Load sizes, grades, products, payment methods and customers from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer closeLog()

			catalog, err := storage.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.Seed(cmd.Context(), catalog)
			if err != nil {
				return err
			}
			logger.Info("catalog seeded", "file", args[0], "rows", res.String())
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var from, to, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export orders to an XLSX workbook",
		Long:  "Writes the orders created in [--from, --to] with their lines and size breakdown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer closeLog()

			start, end, err := exportRange(from, to, time.Now())
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("pedidos-%s-%s.xlsx", start.Format("20060102"), end.Format("20060102"))
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := export.WriteXLSX(cmd.Context(), store.Orders(), start, end, output)
			if err != nil {
				return err
			}
			fmt.Printf("%d order(s) written to %s\n", n, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default: 30 days ago)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	return cmd
}

// exportRange parses the --from/--to flags. Empty values default to the last
// 30 days ending today.
func exportRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	const layout = "2006-01-02"
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := today
	if to != "" {
		t, err := time.Parse(layout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	start := end.AddDate(0, 0, -30)
	if from != "" {
		t, err := time.Parse(layout, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from %s is after --to %s", start.Format(layout), end.Format(layout))
	}
	return start, end, nil
}

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <order code>",
		Short: "Print an order summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("order code must be a number: %q", args[0])
			}
			cfg, closeLog, err := loadConfig(true)
			if err != nil {
				return err
			}
			defer closeLog()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			sum, err := store.Orders().LookupByCode(ctx, code)
			if err != nil {
				return err
			}
			if sum == nil {
				return fmt.Errorf("order %d not found", code)
			}
			fmt.Println(flow.FormatOrderSummary(sum))
			return nil
		},
	}
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change database settings (e.g. the in-production status)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *storage.Store) error {
				settings, err := store.ListSettings(ctx)
				if err != nil {
					return err
				}
				writeSettings(os.Stdout, settings)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <value>",
		Short: "Insert or replace a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *storage.Store) error {
				if err := store.SetSetting(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Printf("%s = %s\n", args[0], args[1])
				return nil
			})
		},
	})
	return cmd
}

// withStore opens the configured database for one short command.
func withStore(parent context.Context, fn func(context.Context, *storage.Store) error) error {
	cfg, closeLog, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()
	return fn(ctx, store)
}

func writeSettings(w io.Writer, settings map[string]string) {
	if len(settings) == 0 {
		fmt.Fprintln(w, "(no settings)")
		return
	}
	names := make([]string, 0, len(settings))
	for k := range settings {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		fmt.Fprintf(w, "%s = %s\n", k, settings[k])
	}
}
