package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/rag/ingest"
)

func newIndexCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "index [dir]",
		Short: "Index a document corpus",
		Long:  "Loads .txt, .md and .html files from dir (default retrieval.corpus_dir) into the retrieval backend. With the memory backend this only validates the corpus, since the index lives in the process.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := c.cfg.Retrieval.CorpusDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return medragerr.New(medragerr.CodeCLIInvalidInput, "no corpus directory given")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := Wire(ctx, c.cfg, wireOptions{skipCorpus: true})
			if err != nil {
				return err
			}
			defer app.Close()

			docs, chunks, err := ingest.IndexDir(ctx, app.Indexer, dir)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents (%d chunks) into %s\n", docs, chunks, c.cfg.Retrieval.Backend)
			return err
		},
	}
}
