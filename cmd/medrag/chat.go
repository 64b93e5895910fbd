package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/middleware"
	"github.com/sweetpotato0/medrag/orchestrator"
)

const chatHelp = `commands:
  /history  show the stored conversation
  /reset    start a new session
  /exit     quit (also exit, quit or bye)`

func newChatCmd(c *cli) *cobra.Command {
	var (
		flags     queryFlags
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long:  "Reads questions from stdin and answers them in one session, so follow-ups see earlier turns.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, c, &flags, sessionID)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "resume an existing session by id")
	return cmd
}

func runChat(cmd *cobra.Command, c *cli, flags *queryFlags, sessionID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := Wire(ctx, c.cfg, wireOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "medrag chat (session %s). Type /help for commands.\n", sessionID)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit", "exit", "quit", "bye":
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/reset":
			if err := app.Sessions.Delete(ctx, sessionID); err != nil {
				return err
			}
			sessionID = uuid.NewString()
			fmt.Fprintf(out, "new session %s\n", sessionID)
			continue
		case "/history":
			printHistory(ctx, out, app, sessionID)
			continue
		}

		res, err := app.askSession(ctx, sessionID, line, flags.options())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := printResult(out, res, flags.asJSON); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return medragerr.Wrap(err, medragerr.CodeCLIInvalidInput, "reading input")
	}
	return nil
}

// askSession runs the middleware chain with the session manager as the
// final handler. A turn that could not be stored still returns its answer.
func (a *App) askSession(ctx context.Context, sessionID, query string, opts orchestrator.QueryOptions) (*orchestrator.PipelineResult, error) {
	opts.SessionID = sessionID
	mctx := middleware.NewContext(ctx, query, nil, opts)
	err := a.Chain.Execute(mctx, func(c *middleware.Context) error {
		res, err := a.Sessions.Ask(c.Context(), c.Options.SessionID, c.Query, c.Options)
		c.Result = res
		if err != nil && res != nil {
			a.logger.Error("session turn not stored", "session_id", sessionID, "error", err)
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return mctx.Result, nil
}

func printHistory(ctx context.Context, out io.Writer, app *App, sessionID string) {
	sess, err := app.Sessions.Get(ctx, sessionID)
	if err != nil {
		if medragerr.IsNotFound(err) {
			fmt.Fprintln(out, "(no turns yet)")
			return
		}
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	for _, msg := range sess.History() {
		fmt.Fprintf(out, "%s: %s\n", msg.Role, msg.Content)
	}
}
