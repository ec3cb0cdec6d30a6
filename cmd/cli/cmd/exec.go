package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensandbox/codespace/pkg/types"
)

var execCmd = &cobra.Command{
	Use:   "exec <command> [args...]",
	Short: "Execute a command on the server",
	Long: `Execute a shell command on the server and print its output.
Arguments are joined with spaces and interpreted by the server's shell.
Example: cs exec --timeout 5000 "ls -la | head"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := types.ExecuteRequest{Command: strings.Join(args, " ")}
		if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
			req.WorkingDirectory = dir
		}
		if ms, _ := cmd.Flags().GetInt("timeout"); ms > 0 {
			req.TimeoutMillis = &ms
		}

		result, err := newClient().Execute(context.Background(), req)
		if err != nil {
			return fmt.Errorf("failed to execute command: %w", err)
		}

		jsonOutput, _ := cmd.Flags().GetBool("json")
		if jsonOutput {
			data, _ := json.MarshalIndent(result, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if result.Output != "" {
			fmt.Fprintln(cmd.OutOrStdout(), result.Output)
		}
		if result.Error != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), result.Error)
		}
		if result.Truncated {
			fmt.Fprintln(cmd.ErrOrStderr(), "(output truncated)")
		}

		if result.ExitCode != 0 {
			return fmt.Errorf("command exited with code %d", result.ExitCode)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)

	execCmd.Flags().Bool("json", false, "Output as JSON")
	execCmd.Flags().String("dir", "", "Working directory on the server (default /workspace)")
	execCmd.Flags().Int("timeout", 0, "Timeout in milliseconds (default 30000)")
	// Stop parsing flags after the first non-flag arg so that
	// arguments like --version are passed to the command,
	// not interpreted by Cobra.
	execCmd.Flags().SetInterspersed(false)
}
