package main

// Client-side subcommands that talk to a running daemon.

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/spectre/internal/rpc"
)

var clientFlags struct {
	daemonURL string
}

func newClient() *rpc.Client {
	url := clientFlags.daemonURL
	if env := os.Getenv("SPECTRE_DAEMON_URL"); url == "" && env != "" {
		url = env
	}
	if url == "" {
		url = "http://127.0.0.1:4822"
	}
	return rpc.NewClient(url)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		health, err := newClient().Connect()
		if err != nil {
			return err
		}
		fmt.Printf("status=%s tables=%d views=%d\n", health.Status, health.Tables, health.Views)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest mutations from a JSON file or stdin",
	Long: `Reads either a single mutation object or an array of mutations:
  {"table": "users", "op": "create", "id": "1", "record": {"name": "A"}}
and applies them through a running daemon. Emitted view updates are
printed as JSON, one per line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args)
		if err != nil {
			return err
		}

		client := newClient()
		var resp rpc.IngestResponse
		if len(data) > 0 && data[0] == '[' {
			var reqs []rpc.IngestRequest
			if err := json.Unmarshal(data, &reqs); err != nil {
				return fmt.Errorf("parse batch: %w", err)
			}
			resp, err = client.IngestBatch(reqs)
		} else {
			var req rpc.IngestRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("parse mutation: %w", err)
			}
			resp, err = client.Ingest(req)
		}
		if err != nil {
			return err
		}

		if resp.Dropped > 0 {
			fmt.Fprintf(os.Stderr, "dropped %d invalid entr(ies)\n", resp.Dropped)
		}
		enc := json.NewEncoder(os.Stdout)
		for _, u := range resp.Updates {
			if err := enc.Encode(u); err != nil {
				return err
			}
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register [file]",
	Short: "Register a view from a JSON registration payload",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(args)
		if err != nil {
			return err
		}
		resp, err := newClient().RegisterView(data)
		if err != nil {
			return err
		}
		if resp.Initial == nil {
			fmt.Println("registered (no initial emission)")
			return nil
		}
		return json.NewEncoder(os.Stdout).Encode(resp.Initial)
	},
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister <view-id>",
	Short: "Remove a registered view",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return newClient().UnregisterView(args[0])
	},
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func init() {
	for _, cmd := range []*cobra.Command{healthCmd, ingestCmd, registerCmd, unregisterCmd} {
		cmd.Flags().StringVar(&clientFlags.daemonURL, "daemon", "", "daemon base URL (default http://127.0.0.1:4822, or SPECTRE_DAEMON_URL)")
	}
}
