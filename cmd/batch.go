package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/workspacekit/workspace-cli/internal/api"
)

func newBatchCmd() *cobra.Command {
	var (
		account string
		file    string
	)

	cmd := &cobra.Command{
		Use:   "batch <service>",
		Short: "Execute up to 100 sub-requests as one batch call",
		Long: `Read a JSON array of sub-requests and execute them as a single
multipart batch call against a Workspace service. Each sub-request has an
id, a method, a path relative to the service API root, and an optional body:

  [
    {"id": "m1", "method": "GET", "path": "/users/me/messages/abc"},
    {"id": "del", "method": "DELETE", "path": "/users/me/messages/def"}
  ]

The outcome reports per-id results and errors; a partial failure does not
abort the remaining sub-requests.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service := args[0]

			reqs, err := readBatchFile(file, cmd.InOrStdin())
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Shutdown()

			sess, err := rt.SessionFor(account)
			if err != nil {
				return err
			}
			client, err := sess.ClientFor(service)
			if err != nil {
				return err
			}

			outcome, err := client.ExecuteBatch(ctx, reqs)
			if err != nil {
				return err
			}

			encoded, err := json.MarshalIndent(outcome, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))

			if outcome.Status == api.BatchStatusError {
				return fmt.Errorf("all %d sub-requests failed", len(outcome.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account name (default: the active account)")
	cmd.Flags().StringVar(&file, "file", "-", "File with the JSON sub-request array ('-' for stdin)")
	return cmd
}

func readBatchFile(file string, stdin io.Reader) ([]api.BatchRequest, error) {
	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read sub-requests from stdin: %w", err)
		}
	} else {
		data, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read sub-request file: %w", err)
		}
	}

	var reqs []api.BatchRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("sub-requests must be a JSON array: %w", err)
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("no sub-requests provided")
	}
	return reqs, nil
}

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List supported Google Workspace services",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %s\n", "SERVICE", "BATCH")
			for _, name := range api.ServiceNames() {
				svc, _ := api.LookupService(name)
				batch := "no"
				if svc.BatchURL != "" {
					batch = "yes"
				}
				fmt.Fprintf(out, "%-10s %s\n", name, batch)
			}
		},
	}
}
