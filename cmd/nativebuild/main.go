package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"golang.org/x/term"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "(devel)"

type cli struct {
	Build   BuildCmd   `cmd:"" help:"Build the project on the remote build service and wait for the result."`
	Builds  BuildsCmd  `cmd:"" help:"List recent builds of the project."`
	Events  EventsCmd  `cmd:"" help:"Print build events from the AMQP queue."`
	Setup   SetupCmd   `cmd:"" help:"Create the bucket of the S3 upload backend."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// deps is what commands receive besides their flags.
type deps struct {
	config *config
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Environ(), os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, environ []string, stdout, stderr io.Writer) int {
	cfg, err := parseConfig(environ)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	log := newLogger(stderr, cfg.LogLevel)
	slog.SetDefault(log)

	var c cli
	exited, exitCode := false, 0
	parser, err := kong.New(&c,
		kong.Name("nativebuild"),
		kong.Description("Submit native app builds to the remote build service."),
		kong.UsageOnError(),
		kong.Writers(stdout, stderr),
		kong.Exit(func(code int) {
			exited, exitCode = true, code
		}),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(&deps{config: cfg, log: log, stdout: stdout, stderr: stderr}),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	kongCtx, err := parser.Parse(args)
	if exited {
		return exitCode
	}
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}
	if err = kongCtx.Run(); err != nil {
		_, _ = fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// newLogger returns a text logger for terminals and a JSON logger otherwise.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
