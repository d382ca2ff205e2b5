package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/steveyegge/spectre/internal/engine"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Snapshot utilities",
}

var snapshotInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Summarize a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		circuit, err := engine.LoadState(data)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", args[0], err)
		}

		var tables []string
		for name := range circuit.DB.Tables {
			tables = append(tables, name)
		}
		sort.Strings(tables)

		fmt.Printf("%s: %d table(s), %d view(s)\n", args[0], len(tables), len(circuit.Views))
		for _, name := range tables {
			tb := circuit.DB.Tables[name]
			fmt.Printf("  table %-20s rows=%-6d live=%d\n", name, len(tb.Rows), len(tb.ZSet))
		}
		for _, v := range circuit.Views {
			fmt.Printf("  view  %-20s format=%-9s members=%-6d has_run=%v tables=%v\n",
				v.ID(), v.Format, len(v.Cache), v.HasRun, v.ReferencedTables())
		}
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotInspectCmd)
}
