package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atinyakov/CargoDesk/internal/client/guard"
	"github.com/atinyakov/CargoDesk/internal/client/prompt"
	"github.com/urfave/cli/v2"
)

const shellHelp = `Commands:
  whoami                   show the current session
  login [email]            sign in
  logout                   sign out
  register                 create an account
  verify-email [email]     confirm an email address
  forgot [email code]      reset a forgotten password
  open <path>              check a portal page, e.g. open /orders
  pages                    list portal pages
  purge                    erase stored session state
  exit`

// cmdShell runs the interactive loop.
func cmdShell(ctx context.Context, e *env, _ *cli.Context) error {
	fmt.Println("CargoDesk shell. Type 'help' for a list of commands.")
	printSession(e.app.Session())

	for {
		line, err := e.p.Line("cargodesk>")
		if errors.Is(err, prompt.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}

		arg := func(i int) string {
			if i < len(args) {
				return args[i]
			}
			return ""
		}

		switch args[0] {
		case "help":
			fmt.Println(shellHelp)
		case "whoami":
			err = cmdWhoami(ctx, e, nil)
		case "login":
			err = login(ctx, e, arg(1))
		case "logout":
			err = cmdLogout(ctx, e, nil)
		case "register":
			err = cmdRegister(ctx, e, nil)
		case "verify-email":
			err = verifyEmail(ctx, e, arg(1), arg(2))
		case "forgot":
			err = forgot(ctx, e, arg(1), arg(2))
		case "open":
			if len(args) < 2 {
				fmt.Println("Usage: open <path>")
				continue
			}
			err = open(e, args[1])
		case "pages":
			for _, r := range guard.Portal {
				fmt.Printf("  %-18s %s\n", r.Path, r.Title)
			}
		case "purge":
			err = cmdPurge(ctx, e, nil)
		case "exit", "quit":
			fmt.Println("Bye")
			return nil
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}

		if errors.Is(err, prompt.ErrClosed) {
			return nil
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}
