package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage workspace files",
	Long:  `Read, write, list, and delete files in the server's workspace.`,
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Read a workspace file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		content, err := newClient().ReadFile(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(content)
		return err
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <path> <content>",
	Short: "Write content to a workspace file",
	Long: `Write content to a file. Use - to read from stdin.
Example: cs files write src/app.ts "let x = 1"
         cat app.ts | cs files write src/app.ts -`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := []byte(args[1])
		if args[1] == "-" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read from stdin: %w", err)
			}
			content = data
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := newClient().WriteFile(ctx, args[0], content); err != nil {
			return fmt.Errorf("failed to write file: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Written %d bytes to %s\n", len(content), args[0])
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a workspace directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		entries, err := newClient().ListDir(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to list directory: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tSIZE\tNAME")
		for _, e := range entries {
			kind := "file"
			if e.IsDir {
				kind = "dir"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", kind, e.Size, e.Name)
		}
		return w.Flush()
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete a workspace file or directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := newClient().DeleteFile(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	filesCmd.AddCommand(catCmd, writeCmd, lsCmd, rmCmd)
	rootCmd.AddCommand(filesCmd)
}
