package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/platinummonkey/qzcli/pkg/config"
	"github.com/platinummonkey/qzcli/pkg/observability"
	"github.com/platinummonkey/qzcli/pkg/session"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// App carries the streams and hooks shared by every command
type App struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// ReadPassword reads a secret without echo. When nil, a terminal stdin
	// is read with x/term and anything else line by line.
	ReadPassword func(prompt string) (string, error)

	// SessionOptions are passed to session.Open
	SessionOptions session.Options

	Context context.Context
	Now     func() time.Time

	debug bool
	in    *bufio.Reader
}

// NewApp returns an App bound to the process streams
func NewApp(ctx context.Context) *App {
	return &App{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Context: ctx,
	}
}

// NewRootCommand creates the root command
func NewRootCommand(app *App) *Command {
	root := &Command{
		Name:        "qzcli",
		Description: "qzcli - QZ platform command line client",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("qzcli", flag.ContinueOnError),
	}
	root.Flags.SetOutput(app.stderr())
	root.Flags.BoolVar(&app.debug, "debug", false, "Log debug output to stderr")

	for _, cmd := range []*Command{
		newInitCommand(app),
		newLoginCommand(app),
		newCookieCommand(app),
		newTokenCommand(app),
		newTestCommand(app),
		newLogoutCommand(app),
		newStatusCommand(app),
		newJobCommand(app),
		newTasksCommand(app),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute parses the global flags and runs the named subcommand
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelp(args[0]) {
		return c.usage()
	}
	if c.Flags != nil && c.Run == nil {
		if err := c.Flags.Parse(args); err != nil {
			return err
		}
		args = c.Flags.Args()
	}
	if len(args) == 0 || isHelp(args[0]) {
		return c.usage()
	}

	subcmd, ok := c.Subcommands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	if subcmd.Run == nil {
		return subcmd.Execute(args[1:])
	}
	return subcmd.Run(args[1:])
}

func isHelp(arg string) bool {
	return strings.EqualFold(arg, "-h") || strings.EqualFold(arg, "--help") || arg == "help"
}

// usage prints the command usage
func (c *Command) usage() error {
	out := io.Writer(os.Stdout)
	if c.Flags != nil {
		out = c.Flags.Output()
	}
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// newFlagSet creates a subcommand flag set that reports errors instead of exiting
func (a *App) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr())
	return fs
}

func (a *App) stderr() io.Writer {
	if a.Stderr == nil {
		return os.Stderr
	}
	return a.Stderr
}

func (a *App) context() context.Context {
	if a.Context == nil {
		return context.Background()
	}
	return a.Context
}

func (a *App) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func (a *App) printf(format string, args ...interface{}) {
	fmt.Fprintf(a.Stdout, format, args...)
}

// loadConfig reads the config and returns a context carrying a logger at
// the configured level, or debug when --debug was given.
func (a *App) loadConfig() (*config.Config, context.Context, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel()
	if a.debug {
		level = observability.DebugLevel
	}
	logger := observability.NewLogger(level, a.stderr())
	return cfg, observability.WithLogger(a.context(), logger), nil
}

// open loads the config and opens a session; callers must Close it
func (a *App) open() (*session.Session, context.Context, error) {
	cfg, ctx, err := a.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := session.Open(ctx, cfg, a.SessionOptions)
	if err != nil {
		return nil, nil, err
	}
	return s, ctx, nil
}

func (a *App) reader() *bufio.Reader {
	if a.in == nil {
		a.in = bufio.NewReader(a.Stdin)
	}
	return a.in
}

// prompt prints label and reads one trimmed line from stdin
func (a *App) prompt(label string) (string, error) {
	line, err := a.readLine(label)
	return strings.TrimSpace(line), err
}

// readLine prints label and returns one line without its line ending
func (a *App) readLine(label string) (string, error) {
	fmt.Fprint(a.stderr(), label)
	line, err := a.reader().ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("cancelled")
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// secret reads a password without echoing it when stdin is a terminal.
// Surrounding spaces are part of the password and are kept.
func (a *App) secret(label string) (string, error) {
	if a.ReadPassword != nil {
		return a.ReadPassword(label)
	}
	if f, ok := a.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.stderr(), label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.stderr())
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return a.readLine(label)
}

// preview shortens s to n characters followed by "..."
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
