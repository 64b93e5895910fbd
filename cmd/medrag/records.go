package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	medragerr "github.com/sweetpotato0/medrag/errors"
	"github.com/sweetpotato0/medrag/records"
)

// lookup is one direct record query offered by the records command.
type lookup struct {
	needsID bool
	run     func(ctx context.Context, inv records.Invoker, id int) (any, error)
}

var lookups = map[string]lookup{
	"patients": {run: func(ctx context.Context, inv records.Invoker, _ int) (any, error) {
		return records.ListPatients(ctx, inv)
	}},
	"patient": {needsID: true, run: func(ctx context.Context, inv records.Invoker, id int) (any, error) {
		return records.GetPatient(ctx, inv, id)
	}},
	"doctors": {run: func(ctx context.Context, inv records.Invoker, _ int) (any, error) {
		return records.ListDoctors(ctx, inv)
	}},
	"doctor": {needsID: true, run: func(ctx context.Context, inv records.Invoker, id int) (any, error) {
		return records.GetDoctor(ctx, inv, id)
	}},
	"studies": {run: func(ctx context.Context, inv records.Invoker, _ int) (any, error) {
		return records.ListStudies(ctx, inv)
	}},
	"study": {needsID: true, run: func(ctx context.Context, inv records.Invoker, id int) (any, error) {
		return records.GetStudy(ctx, inv, id)
	}},
	"patient-doctors": {needsID: true, run: func(ctx context.Context, inv records.Invoker, id int) (any, error) {
		return records.DoctorsForPatient(ctx, inv, id)
	}},
	"patient-studies": {needsID: true, run: func(ctx context.Context, inv records.Invoker, id int) (any, error) {
		return records.StudiesForPatient(ctx, inv, id)
	}},
	"doctor-studies": {needsID: true, run: func(ctx context.Context, inv records.Invoker, id int) (any, error) {
		return records.StudiesForDoctor(ctx, inv, id)
	}},
}

func lookupNames() []string {
	names := make([]string, 0, len(lookups))
	for name := range lookups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newRecordsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "records <kind> [id]",
		Short:     "Query the record service directly",
		Long:      "Fetches patients, doctors or studies from the configured record transport without involving a language model. Kinds: " + strings.Join(lookupNames(), ", ") + ".",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: lookupNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, ok := lookups[args[0]]
			if !ok {
				return medragerr.New(medragerr.CodeCLIInvalidInput, "unknown record kind "+strconv.Quote(args[0]),
					medragerr.Field("kinds", strings.Join(lookupNames(), ", ")))
			}
			id := 0
			switch {
			case l.needsID && len(args) < 2:
				return medragerr.New(medragerr.CodeCLIInvalidInput, args[0]+" needs an id")
			case !l.needsID && len(args) > 1:
				return medragerr.New(medragerr.CodeCLIInvalidInput, args[0]+" takes no id")
			case l.needsID:
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 0 {
					return medragerr.New(medragerr.CodeCLIInvalidInput, "id must be a non-negative integer")
				}
				id = n
			}

			app, err := WireRecords(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			out, err := l.run(cmd.Context(), app.Invoker, id)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return err
		},
	}
}
