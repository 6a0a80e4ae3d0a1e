// Command expoctl drives the registration, checkout and admin flows against a running API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/railtrans/expo/internal/domain/registrant"
	"github.com/railtrans/expo/internal/expoclient"
)

type command struct {
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = map[string]command{
	"config":   {"print a role's registration config", runConfig},
	"register": {"fill and submit a registration form, verifying email by OTP", runRegister},
	"checkout": {"apply a coupon and pay through the hosted checkout", runCheckout},
	"ticket":   {"validate a ticket code", runTicket},
	"upgrade":  {"move a ticket to another category", runUpgrade},
	"badge":    {"download a registrant's badge PDF", runBadge},
	"login":    {"exchange admin credentials for a token", runLogin},
	"table":    {"show the admin table for a role", runTable},
	"export":   {"download the admin CSV export for a role", runExport},
	"bulk":     {"queue a bulk action for registrants", runBulk},
}

// env is what every subcommand shares.
type env struct {
	client *expoclient.Client
	log    *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "expoctl:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, argv []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("expoctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	api := fs.String("api", envOr("EXPO_API", "http://localhost:8080"), "API base URL")
	token := fs.String("token", os.Getenv("EXPO_TOKEN"), "admin bearer token")
	verbose := fs.Bool("v", false, "log flow transitions to stderr")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(argv); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", name)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}

	e := &env{
		client: expoclient.New(expoclient.Config{BaseURL: *api, Token: *token}),
		log:    slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
	return cmd.run(ctx, e, fs.Args()[1:])
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  expoctl [global options] <command> [command options]")
	fmt.Fprintln(w, "\nCommands:")

	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-10s %s\n", n, commands[n].summary)
	}

	fmt.Fprintln(w, "\nGlobal options:")
	fs.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// roleFlag registers -role and returns a parser for it.
func roleFlag(fs *flag.FlagSet) func() (registrant.Role, error) {
	raw := fs.String("role", "visitor", "visitor|exhibitor|partner|speaker|awardee")
	return func() (registrant.Role, error) {
		r, ok := registrant.ParseRole(*raw)
		if !ok {
			return "", fmt.Errorf("unknown role %q", *raw)
		}
		return r, nil
	}
}

// setFlags collects repeated -set name=value pairs.
type setFlags map[string]any

func (s setFlags) String() string {
	parts := make([]string, 0, len(s))
	for k, v := range s {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

// Set keeps true/false as booleans so checkbox fields round-trip.
func (s setFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", v)
	}
	switch strings.ToLower(value) {
	case "true":
		s[name] = true
	case "false":
		s[name] = false
	default:
		s[name] = value
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFlagSet(e *env, name string) *flag.FlagSet {
	fs := flag.NewFlagSet("expoctl "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}
