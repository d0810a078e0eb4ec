// Command bell is a terminal notification bell for one bizdash session. It
// keeps a live list of the tenant's notifications and lets the user mark
// them read or dismiss them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"bizdash/internal/client"
	"bizdash/internal/pkg/logger"
	"bizdash/internal/platform/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	baseURL := flag.String("server", "", "Server base URL (overrides client.base_url)")
	token := flag.String("token", "", "Session token (default $BIZDASH_TOKEN, then the keyring)")
	login := flag.String("login", "", "Log in with this email and store the session in the keyring")
	mine := flag.Bool("mine", false, "Only show notifications addressed to me or the whole tenant")
	flag.Parse()

	if err := run(*configPath, *baseURL, *token, *login, *mine); err != nil {
		fmt.Fprintln(os.Stderr, "bell:", err)
		os.Exit(1)
	}
}

func run(configPath, baseURL, token, login string, mine bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// the terminal belongs to the UI; only log when a file is configured
	if cfg.Logging.Output == "file" {
		logger.Init(cfg.Logging)
	} else {
		logger.Discard()
	}
	if baseURL == "" {
		baseURL = cfg.Client.BaseURL
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(baseURL, "")
	token, err = resolveToken(ctx, api, baseURL, token, login)
	if err != nil {
		return err
	}
	api.SetToken(token)

	tenantID, userID, err := client.Identity(token)
	if err != nil {
		return err
	}
	wsURL, err := client.WebsocketURL(baseURL, token)
	if err != nil {
		return err
	}

	conn := client.NewConnectionManager(wsURL, client.ConnOptions{})
	opts := []client.Option{
		client.WithPollInterval(cfg.Client.PollInterval),
		client.WithCompensation(cfg.Client.CompensateOnFailure),
	}
	if mine {
		opts = append(opts, client.WithUserID(userID))
	}
	hook := client.NewHook(api, conn, tenantID, opts...)

	states := make(chan client.State, 1)
	hook.Subscribe(latest(states))

	if err := conn.Connect(ctx, tenantID); err != nil {
		return err
	}
	defer conn.Disconnect()
	go hook.Run(ctx)

	p := tea.NewProgram(newModel(ctx, hook, states), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// resolveToken logs in when an email is given, otherwise takes the flag,
// the environment or the keyring, in that order.
func resolveToken(ctx context.Context, api *client.API, baseURL, token, login string) (string, error) {
	if login != "" {
		password := os.Getenv("BIZDASH_PASSWORD")
		if password == "" {
			return "", errors.New("set BIZDASH_PASSWORD to log in")
		}
		tok, err := api.Login(ctx, login, password)
		if err != nil {
			return "", err
		}
		if err := saveToken(baseURL, tok); err != nil {
			fmt.Fprintln(os.Stderr, "bell: session not stored:", err)
		}
		return tok, nil
	}
	if token != "" {
		return token, nil
	}
	if env := os.Getenv("BIZDASH_TOKEN"); env != "" {
		return env, nil
	}
	tok, err := loadToken(baseURL)
	if err != nil {
		return "", fmt.Errorf("no session (use -token or -login): %w", err)
	}
	return tok, nil
}

// latest hands the newest state to the UI, replacing one it has not taken
// yet. Hook subscribers must not block.
func latest(ch chan client.State) func(client.State) {
	return func(s client.State) {
		for {
			select {
			case ch <- s:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	}
}
