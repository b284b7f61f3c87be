package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.orderbot.gateway"
	systemdUnit  = "orderbot.service"
)

// serviceFile is a rendered launchd plist or systemd user unit.
type serviceFile struct {
	Path    string
	Content string
	Hints   []string
	LogDir  string
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run the gateway as a user service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write the service file for 'orderbot gateway'",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			sf, err := renderService(runtime.GOOS, home, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			if sf.LogDir != "" {
				if err := os.MkdirAll(sf.LogDir, 0o755); err != nil {
					return err
				}
			}
			if err := os.MkdirAll(filepath.Dir(sf.Path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(sf.Path, []byte(sf.Content), 0o644); err != nil {
				return err
			}
			fmt.Printf("Service installed: %s\n", sf.Path)
			for _, h := range sf.Hints {
				fmt.Println(h)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path, err := servicePath(runtime.GOOS, home)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service uninstalled: %s\n", path)
			return nil
		},
	})
	return cmd
}

func servicePath(goos, home string) (string, error) {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

func renderService(goos, home, execPath, cfgPath string) (serviceFile, error) {
	path, err := servicePath(goos, home)
	if err != nil {
		return serviceFile{}, err
	}
	switch goos {
	case "darwin":
		logDir := filepath.Join(home, ".orderbot", "logs")
		r := strings.NewReplacer(
			"{{LABEL}}", launchdLabel,
			"{{EXEC}}", execPath,
			"{{CONFIG}}", cfgPath,
			"{{LOG}}", filepath.Join(logDir, "gateway.log"),
			"{{ERR_LOG}}", filepath.Join(logDir, "gateway-error.log"),
		)
		return serviceFile{
			Path:    path,
			Content: r.Replace(launchdTemplate),
			LogDir:  logDir,
			Hints: []string{
				"To start: launchctl load " + path,
				"To stop:  launchctl unload " + path,
			},
		}, nil
	default:
		r := strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath)
		return serviceFile{
			Path:    path,
			Content: r.Replace(systemdTemplate),
			Hints: []string{
				"To start:  systemctl --user start orderbot",
				"To enable: systemctl --user enable orderbot",
				"To follow: journalctl --user -u orderbot -f",
			},
		}, nil
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>gateway</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=orderbot order intake gateway
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} gateway --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
