package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/orchestrator"
)

type queryFlags struct {
	topK     int
	evaluate bool
	caller   string
	asJSON   bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.topK, "top-k", "k", 0, "passages per document search (default from config)")
	cmd.Flags().BoolVarP(&f.evaluate, "evaluate", "e", false, "compute response quality metrics")
	cmd.Flags().StringVar(&f.caller, "caller", "", "caller identity forwarded to the record service")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full result as JSON")
}

func (f *queryFlags) options() orchestrator.QueryOptions {
	return orchestrator.QueryOptions{TopK: f.topK, Evaluate: f.evaluate, CallerID: f.caller}
}

func newAskCmd(c *cli) *cobra.Command {
	var flags queryFlags
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, c, &flags, strings.Join(args, " "))
		},
	}
	flags.register(cmd)
	return cmd
}

func runAsk(cmd *cobra.Command, c *cli, flags *queryFlags, question string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := Wire(ctx, c.cfg, wireOptions{})
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Pipeline().ProcessQuery(ctx, question, nil, flags.options())
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, flags.asJSON)
}

func printResult(w io.Writer, res *orchestrator.PipelineResult, asJSON bool) error {
	if res == nil {
		return medragerr.New(medragerr.CodeOrchestratorFailure, "no result produced")
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if _, err := fmt.Fprintln(w, res.Answer); err != nil {
		return err
	}
	if len(res.ToolsUsed) > 0 {
		fmt.Fprintf(w, "\n[tools: %s, %dms]\n", strings.Join(res.ToolsUsed, ", "), res.LatencyMS)
	}
	if n := len(res.SourceNames()); n > 0 {
		fmt.Fprintf(w, "[sources: %d]\n", n)
	}
	if msg, ok := res.Debug["error"].(string); ok && msg != "" {
		fmt.Fprintf(w, "[error: %s]\n", msg)
	}
	if len(res.QualityMetrics) > 0 {
		keys := make([]string, 0, len(res.QualityMetrics))
		for k := range res.QualityMetrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "\nquality:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, res.QualityMetrics[k])
		}
	}
	return nil
}
