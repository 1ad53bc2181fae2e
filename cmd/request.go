package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newRequestCmd() *cobra.Command {
	var (
		account  string
		body     string
		bodyFile string
	)

	cmd := &cobra.Command{
		Use:   "request <service> <method> <path>",
		Short: "Execute one request against a Google Workspace API",
		Long: `Execute a single authenticated request against a Workspace service and
print the JSON response.

Examples:
  workspace-cli request gmail GET /users/me/messages
  workspace-cli request drive GET "/files?pageSize=5"
  workspace-cli request calendar POST /calendars/primary/events --body-file event.json`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			service, method, path := args[0], strings.ToUpper(args[1]), args[2]

			payload, err := readBodyArg(body, bodyFile, cmd.InOrStdin())
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

			resp, err := client.Execute(ctx, method, path, payload)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), resp.Body)
		},
	}

	cmd.Flags().StringVar(&account, "account", "", "Account name (default: the active account)")
	cmd.Flags().StringVar(&body, "body", "", "JSON request body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "File with the JSON request body ('-' for stdin)")
	return cmd
}

// readBodyArg resolves the request body from --body, --body-file, or stdin.
func readBodyArg(body, bodyFile string, stdin io.Reader) (json.RawMessage, error) {
	var raw []byte
	switch {
	case body != "" && bodyFile != "":
		return nil, fmt.Errorf("--body and --body-file are mutually exclusive")
	case body != "":
		raw = []byte(body)
	case bodyFile == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read body from stdin: %w", err)
		}
		raw = data
	case bodyFile != "":
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
		raw = data
	default:
		return nil, nil
	}

	var decoded json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("request body is not valid JSON: %w", err)
	}
	return decoded, nil
}

// printJSON pretty-prints a JSON payload, passing through non-JSON verbatim.
func printJSON(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, werr := w.Write(data)
		return werr
	}
	buf.WriteByte('\n')
	_, err := io.Copy(w, &buf)
	return err
}
