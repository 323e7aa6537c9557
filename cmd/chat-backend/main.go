// ABOUTME: Entry point for the chat-backend server
// ABOUTME: Dispatches the serve, init, health and deactivate subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/Sahil-Karanje/chat-backend/internal/config"
	"github.com/Sahil-Karanje/chat-backend/internal/gateway"
)

// version is overridden at build time with -ldflags "-X main.version=<tag>".
var version = "dev"

const banner = `
       _           _          _                _                  _
   ___| |__   __ _| |_       | |__   __ _  ___| | _____ _ __   __| |
  / __| '_ \ / _' | __|_____ | '_ \ / _' |/ __| |/ / _ \ '_ \ / _' |
 | (__| | | | (_| | ||_____|| |_) | (_| | (__|   <  __/ | | | (_| |
  \___|_| |_|\__,_|\__|     |_.__/ \__,_|\___|_|\_\___|_| |_|\__,_|
`

func usage() {
	fmt.Println("Usage: chat-backend <command> [--config PATH]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                      Start the chat server")
	fmt.Println("  init                       Write a new config file with random secrets")
	fmt.Println("  health                     Check server readiness")
	fmt.Println("  deactivate --email EMAIL   Soft-delete an account and revoke its session")
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: .env file could not be loaded: %v\n", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "init":
		err = runInit(os.Args[2:], os.Stdin, os.Stdout)
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "deactivate":
		err = runDeactivate(ctx, os.Args[2:])
	case "help", "--help", "-h":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commandFlags holds flags shared by every subcommand.
type commandFlags struct {
	configPath string
	email      string
}

func parseFlags(name string, args []string) (*commandFlags, error) {
	var f commandFlags
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&f.configPath, "config", "c", config.DefaultPath(), "path to the config file")
	if name == "deactivate" {
		fs.StringVar(&f.email, "email", "", "email of the account to deactivate")
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("%s: unexpected argument: %s", name, rest[0])
	}
	return &f, nil
}

func runServe(ctx context.Context, args []string) error {
	flags, err := parseFlags("serve", args)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", flags.configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	logger.Info("starting chat-backend",
		"version", version,
		"config", flags.configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"driver", cfg.Database.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// healthURL builds the readiness URL for a listen address, dialing loopback
// when the server binds every interface.
func healthURL(httpAddr string) string {
	host := httpAddr
	if strings.HasPrefix(host, "0.0.0.0:") {
		host = "127.0.0.1:" + strings.TrimPrefix(host, "0.0.0.0:")
	} else if strings.HasPrefix(host, ":") {
		host = "127.0.0.1" + host
	}
	return fmt.Sprintf("http://%s/health/ready", host)
}

func runHealth(ctx context.Context, args []string) error {
	flags, err := parseFlags("health", args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}

func runDeactivate(ctx context.Context, args []string) error {
	flags, err := parseFlags("deactivate", args)
	if err != nil {
		return err
	}
	email := strings.ToLower(strings.TrimSpace(flags.email))
	if email == "" {
		return errors.New("--email flag is required")
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := gateway.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", email, err)
	}
	if user.IsDeleted() {
		color.Yellow("  %s is already deactivated", email)
		return nil
	}

	if err := s.SoftDeleteUser(ctx, user.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivating %s: %w", email, err)
	}

	slog.Info("account deactivated", "user_id", user.ID, "email", email)
	color.Green("  ✓ Deactivated %s (%s)", user.Username, user.ID)
	return nil
}
