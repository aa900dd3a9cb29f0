package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/voxelops/internal/procedures"
	"github.com/fyrsmithlabs/voxelops/internal/validation"
)

var proceduresVerbose bool

func init() {
	rootCmd.AddCommand(proceduresCmd)
	proceduresCmd.Flags().BoolVarP(&proceduresVerbose, "verbose", "v", false, "list the rules of every phase")
}

var proceduresCmd = &cobra.Command{
	Use:   "procedures",
	Short: "List registered procedures and their validation rules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listProcedures(cmd.OutOrStdout(), procedures.DefaultRegistry(), proceduresVerbose)
	},
}

func listProcedures(out io.Writer, reg *validation.Registry, verbose bool) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if verbose {
		_, _ = fmt.Fprintln(w, "PROCEDURE\tPHASE\tRULE\tSEVERITY\tDESCRIPTION")
	} else {
		_, _ = fmt.Fprintln(w, "PROCEDURE\tPRE RULES\tPOST RULES")
	}

	for _, name := range reg.Names() {
		v, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		if !verbose {
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", name, len(v.PreRules()), len(v.PostRules()))
			continue
		}
		for _, phase := range []struct {
			phase validation.Phase
			rules []validation.Rule
		}{
			{validation.PhasePre, v.PreRules()},
			{validation.PhasePost, v.PostRules()},
		} {
			for _, r := range phase.rules {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, phase.phase, r.Name(), r.Severity(), r.Description())
			}
		}
	}
	return w.Flush()
}
