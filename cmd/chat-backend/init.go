// ABOUTME: Interactive config file generator for the init subcommand
// ABOUTME: Generates fresh JWT secrets and validates the result before writing

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sahil-Karanje/chat-backend/internal/config"
)

// initAnswers are the values collected by the init prompts.
type initAnswers struct {
	HTTPAddr     string
	Driver       string
	DatabasePath string
	DatabaseDSN  string

	TailscaleEnabled  bool
	TailscaleHostname string

	JWTSecret        string
	JWTRefreshSecret string

	LogLevel  string
	LogFormat string
}

// generateSecret returns n random bytes, hex encoded.
func generateSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func defaultDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.db"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "chat-backend", "chat.db")
}

func isYes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

// renderConfig writes answers as a YAML config file.
func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# chat-backend configuration\n")
	cfg.WriteString("# Generated by chat-backend init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	cfg.WriteString("  allowed_origins: []\n\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", a.Driver)
	if a.Driver == config.DriverPostgres {
		fmt.Fprintf(&cfg, "  dsn: %q\n", a.DatabaseDSN)
	} else {
		fmt.Fprintf(&cfg, "  path: %q\n", a.DatabasePath)
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.TailscaleEnabled)
	if a.TailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TailscaleHostname)
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", a.JWTSecret)
	fmt.Fprintf(&cfg, "  jwt_refresh_secret: %q\n", a.JWTRefreshSecret)
	cfg.WriteString("  secure_cookies: false\n")
	fmt.Fprintf(&cfg, "  access_ttl: %q\n", config.DefaultAccessTTL.String())
	fmt.Fprintf(&cfg, "  refresh_ttl: %q\n", config.DefaultRefreshTTL.String())
	cfg.WriteString("\n")

	cfg.WriteString("realtime:\n")
	fmt.Fprintf(&cfg, "  ping_period: %q\n", config.DefaultPingPeriod.String())
	fmt.Fprintf(&cfg, "  read_timeout: %q\n", config.DefaultReadTimeout.String())
	fmt.Fprintf(&cfg, "  send_buffer: %d\n", config.DefaultSendBuffer)
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)

	return cfg.String()
}

func runInit(args []string, in io.Reader, out io.Writer) error {
	flags, err := parseFlags("init", args)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(in)
	ask := func(question, defaultVal string) string {
		return prompt(reader, out, question, defaultVal)
	}

	fmt.Fprintln(out, "chat-backend configuration setup")
	fmt.Fprintln(out, "================================")
	fmt.Fprintln(out)

	outputFile := ask("Config file path", flags.configPath)
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(ask("File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	a.HTTPAddr = ask("HTTP address", "localhost:8080")

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	a.Driver = strings.ToLower(ask("Driver (sqlite/postgres)", config.DriverSQLite))
	if a.Driver == config.DriverPostgres {
		a.DatabaseDSN = ask("Postgres DSN", "postgres://localhost:5432/chat?sslmode=disable")
	} else {
		a.DatabasePath = ask("SQLite database path", defaultDataPath())
	}

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	a.TailscaleEnabled = isYes(ask("Enable Tailscale?", "no"))
	if a.TailscaleEnabled {
		a.TailscaleHostname = ask("Tailscale hostname", "chat-backend")
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	a.LogLevel = ask("Log level (debug/info/warn/error)", "info")
	a.LogFormat = ask("Log format (text/json)", "text")

	if a.JWTSecret, err = generateSecret(32); err != nil {
		return err
	}
	if a.JWTRefreshSecret, err = generateSecret(32); err != nil {
		return err
	}

	content := renderConfig(a)
	if _, err := config.Parse([]byte(content), false); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// secrets inside
	if err := os.WriteFile(outputFile, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if a.Driver != config.DriverPostgres {
		if err := os.MkdirAll(filepath.Dir(a.DatabasePath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintf(out, "  chat-backend serve --config %s\n", outputFile)
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// EOF: take the default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
