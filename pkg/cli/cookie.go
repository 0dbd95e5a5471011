package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

func newCookieCommand(app *App) *Command {
	cmd := &Command{
		Name:        "cookie",
		Description: "Save, show or clear the browser cookie",
		Flags:       app.newFlagSet("cookie"),
	}
	clearCookie := cmd.Flags.Bool("clear", false, "Clear the saved cookie")
	show := cmd.Flags.Bool("show", false, "Show the saved cookie")
	file := cmd.Flags.String("file", "", "Read the cookie from a file")
	workspace := cmd.Flags.String("workspace", "", "Default workspace ID")
	noTest := cmd.Flags.Bool("no-test", false, "Save without checking the cookie against the workspace")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, ctx, err := app.open()
		if err != nil {
			return err
		}
		defer s.Close()

		switch {
		case *clearCookie:
			if err := s.Store().ClearCookie(ctx); err != nil {
				return err
			}
			app.printf("Cookie cleared\n")
			return nil

		case *show:
			record, err := s.Cookie(ctx)
			if err != nil {
				app.printf("No cookie saved\n")
				return nil
			}
			ws := record.WorkspaceID
			if ws == "" {
				ws = "N/A"
			}
			app.printf("Workspace: %s\n", ws)
			app.printf("Cookie: %s\n", preview(record.Cookie, 80))
			return nil
		}

		cookie := strings.TrimSpace(strings.Join(cmd.Flags.Args(), " "))
		if *file != "" {
			if cookie, err = readCookieFile(*file); err != nil {
				return err
			}
		}
		if cookie == "" {
			if cookie, err = app.prompt("Paste the browser cookie (document.cookie): "); err != nil {
				return err
			}
		}
		if cookie == "" {
			return fmt.Errorf("cookie is required")
		}

		validate := !*noTest && *workspace != ""
		if err := s.SaveCookie(ctx, cookie, *workspace, validate); err != nil {
			return err
		}
		if validate {
			app.printf("Cookie works for workspace %s\n", *workspace)
		}
		app.printf("Cookie saved\n")
		return nil
	}
	return cmd
}

// readCookieFile returns the last non-empty line that is neither a comment
// nor the bare word "cookie".
func readCookieFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open cookie file: %w", err)
	}
	defer f.Close()

	var cookie string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || line == "cookie" {
			continue
		}
		cookie = line
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read cookie file: %w", err)
	}
	if cookie == "" {
		return "", fmt.Errorf("no cookie found in %s", path)
	}
	return cookie, nil
}
