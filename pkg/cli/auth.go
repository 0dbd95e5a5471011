package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/qzcli/pkg/config"
	"github.com/platinummonkey/qzcli/pkg/session"
	"github.com/platinummonkey/qzcli/pkg/storage"
)

func newInitCommand(app *App) *Command {
	cmd := &Command{
		Name:        "init",
		Description: "Save username and password and test them",
		Flags:       app.newFlagSet("init"),
	}
	username := cmd.Flags.String("username", "", "Platform username")
	password := cmd.Flags.String("password", "", "Platform password (prompted when omitted)")
	apiURL := cmd.Flags.String("api-url", "", "Platform base URL")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		var err error
		if *username == "" {
			if *username, err = app.prompt("Username: "); err != nil {
				return err
			}
		}
		if *password == "" {
			if *password, err = app.secret("Password: "); err != nil {
				return err
			}
			*password = strings.TrimSpace(*password)
		}
		if *username == "" || *password == "" {
			return fmt.Errorf("username and password are required")
		}

		path, err := config.InitConfig(*username, *password, *apiURL)
		if err != nil {
			return err
		}

		app.printf("Testing connection...\n")
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Platform().TestConnection(ctx); err != nil {
			return fmt.Errorf("authentication failed, check username and password: %w", err)
		}
		app.printf("Credentials saved to %s\n", path)
		return nil
	}
	return cmd
}

func newLoginCommand(app *App) *Command {
	cmd := &Command{
		Name:        "login",
		Description: "Log in through CAS and save the browser cookie",
		Flags:       app.newFlagSet("login"),
	}
	username := cmd.Flags.String("username", "", "CAS username (defaults to the configured one)")
	password := cmd.Flags.String("password", "", "CAS password (defaults to the configured one)")
	workspace := cmd.Flags.String("workspace", "", "Default workspace ID to save with the cookie")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		cfg := s.Config()
		if *username == "" {
			*username = cfg.Username
		}
		if *username == "" {
			if *username, err = app.prompt("Username: "); err != nil {
				return err
			}
		}
		if *password == "" && *username == cfg.Username {
			*password = cfg.Password
		}
		if *password == "" {
			if *password, err = app.secret("Password: "); err != nil {
				return err
			}
		}
		if *username == "" || *password == "" {
			return fmt.Errorf("username and password are required")
		}

		app.printf("Logging in...\n")
		record, err := s.Login(ctx, *username, *password, *workspace)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		app.printf("Login succeeded, cookie saved\n")
		app.printf("Cookie: %s\n", preview(record.Cookie, 50))
		if *workspace != "" {
			app.printf("Default workspace: %s\n", *workspace)
		}
		return nil
	}
	return cmd
}

func newTokenCommand(app *App) *Command {
	cmd := &Command{
		Name:        "token",
		Description: "Obtain a bearer token and show its expiry",
		Flags:       app.newFlagSet("token"),
	}
	refresh := cmd.Flags.Bool("refresh", false, "Ignore cached tokens and exchange a new one")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		token, err := s.Tokens().Token(ctx, *refresh)
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
		expiry := token.Expiry()
		app.printf("Token: %s\n", preview(token.Value, 20))
		app.printf("Expires: %s (in %s)\n", expiry.Format(time.RFC3339), expiry.Sub(app.now()).Round(time.Second))
		return nil
	}
	return cmd
}

func newTestCommand(app *App) *Command {
	cmd := &Command{
		Name:        "test",
		Description: "Check that the configured credentials are accepted",
		Flags:       app.newFlagSet("test"),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Platform().TestConnection(ctx); err != nil {
			return err
		}
		app.printf("Connection OK (%s)\n", s.Config().APIBaseURL)
		return nil
	}
	return cmd
}

func newLogoutCommand(app *App) *Command {
	cmd := &Command{
		Name:        "logout",
		Description: "Clear the cached token and the saved cookie",
		Flags:       app.newFlagSet("logout"),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.Logout(ctx); err != nil {
			return err
		}
		app.printf("Token and cookie cleared\n")
		return nil
	}
	return cmd
}

func newStatusCommand(app *App) *Command {
	cmd := &Command{
		Name:        "status",
		Description: "Show configuration and cached credentials",
		Flags:       app.newFlagSet("status"),
	}
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		cfg := s.Config()
		username := cfg.Username
		if username == "" {
			username = "(not set)"
		}
		app.printf("Config:    %s\n", cfg.Path())
		app.printf("API:       %s\n", cfg.APIBaseURL)
		app.printf("Username:  %s\n", username)
		app.printf("Store:     %s\n", cfg.Store.Type)

		token, err := s.CachedToken(ctx)
		switch {
		case err == nil:
			app.printf("Token:     valid until %s\n", token.Expiry().Format(time.RFC3339))
		case errors.Is(err, storage.ErrCacheMiss):
			if s.TokenCacheEnabled() {
				app.printf("Token:     none\n")
			} else {
				app.printf("Token:     none (cache disabled)\n")
			}
		default:
			return fmt.Errorf("failed to read token: %w", err)
		}

		record, err := s.Cookie(ctx)
		if errors.Is(err, session.ErrNoCookie) {
			app.printf("Cookie:    none\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read cookie: %w", err)
		}
		workspace := record.WorkspaceID
		if workspace == "" {
			workspace = "N/A"
		}
		state := "missing session"
		if record.HasSession() {
			state = "has session"
		}
		app.printf("Cookie:    saved %s, %s\n", record.SavedTime().Format(time.RFC3339), state)
		app.printf("Workspace: %s\n", workspace)
		return nil
	}
	return cmd
}
