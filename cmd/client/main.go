// Package main is the CargoDesk terminal client: sign up, sign in, reset a
// password and check which portal pages the current session may open.
package main

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/atinyakov/CargoDesk/internal/client/app"
	"github.com/atinyakov/CargoDesk/internal/client/prompt"
	"github.com/atinyakov/CargoDesk/internal/client/storage"
	"github.com/atinyakov/CargoDesk/internal/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var (
	version   string
	buildDate string
)

var flagURL = &cli.StringFlag{
	Name:    "url",
	Value:   "http://localhost:8080/api",
	Usage:   "API base URL",
	EnvVars: []string{"CARGODESK_URL"},
}

var flagState = &cli.StringFlag{
	Name:    "state",
	Value:   storage.DefaultPath,
	Usage:   "path to the client state file",
	EnvVars: []string{"CARGODESK_STATE"},
}

var flagCA = &cli.StringFlag{
	Name:    "ca",
	Usage:   "extra root CA certificate (PEM) for HTTPS servers",
	EnvVars: []string{"CARGODESK_CA"},
}

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 10 * time.Second,
	Usage: "per-request timeout",
}

var flagLanguage = &cli.StringFlag{
	Name:    "language",
	Value:   "en",
	Usage:   "preferred language sent on registration",
	EnvVars: []string{"CARGODESK_LANGUAGE"},
}

var flagLogLevel = &cli.StringFlag{
	Name:    "log-level",
	Value:   "warn",
	Usage:   "log level (debug, info, warn, error)",
	EnvVars: []string{"CARGODESK_LOG_LEVEL"},
}

// env bundles what every command needs.
type env struct {
	app *app.App
	p   *prompt.Prompter
	log *zap.Logger
}

// withApp builds the client, restores the session and runs fn.
func withApp(fn func(ctx context.Context, e *env, cCtx *cli.Context) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		l := logger.New()
		if err := l.InitConsole(cCtx.String(flagLogLevel.Name)); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer func() { _ = l.Log.Sync() }()

		a, err := app.New(app.Config{
			BaseURL:   cCtx.String(flagURL.Name),
			StatePath: cCtx.String(flagState.Name),
			CAFile:    cCtx.String(flagCA.Name),
			Timeout:   cCtx.Duration(flagTimeout.Name),
			Language:  cCtx.String(flagLanguage.Name),
			Logger:    l.Log,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				l.Log.Warn("failed to save client state", zap.Error(err))
			}
		}()

		ctx := cCtx.Context
		a.Bootstrap(ctx)
		return fn(ctx, &env{app: a, p: prompt.New(os.Stdin, os.Stdout), log: l.Log}, cCtx)
	}
}

func main() {
	cliApp := &cli.App{
		Name:    "cargodesk",
		Usage:   "CargoDesk account client",
		Version: fmt.Sprintf("%s (built %s)", cmp.Or(version, "N/A"), cmp.Or(buildDate, "N/A")),
		Flags: []cli.Flag{
			flagURL,
			flagState,
			flagCA,
			flagTimeout,
			flagLanguage,
			flagLogLevel,
		},
		DefaultCommand: "shell",
		Commands: []*cli.Command{
			{
				Name:   "register",
				Usage:  "create a client or agent account",
				Action: withApp(cmdRegister),
			},
			{
				Name:  "login",
				Usage: "sign in",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "account email"},
				},
				Action: withApp(cmdLogin),
			},
			{
				Name:   "logout",
				Usage:  "sign out",
				Action: withApp(cmdLogout),
			},
			{
				Name:   "whoami",
				Usage:  "show the current session",
				Action: withApp(cmdWhoami),
			},
			{
				Name:  "verify-email",
				Usage: "confirm an email address with the code from the welcome mail",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email"},
					&cli.StringFlag{Name: "code"},
				},
				Action: withApp(cmdVerifyEmail),
			},
			{
				Name:  "forgot",
				Usage: "reset a forgotten password",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "email from the reset link"},
					&cli.StringFlag{Name: "code", Usage: "code from the reset link"},
				},
				Action: withApp(cmdForgot),
			},
			{
				Name:   "purge",
				Usage:  "erase every piece of stored session state",
				Action: withApp(cmdPurge),
			},
			{
				Name:      "open",
				Usage:     "check whether a portal page may be shown",
				ArgsUsage: "<path>",
				Action:    withApp(cmdOpen),
			},
			{
				Name:   "shell",
				Usage:  "interactive shell",
				Action: withApp(cmdShell),
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
