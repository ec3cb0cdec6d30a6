package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/opensandbox/codespace/pkg/client"
)

var (
	baseURL string
	apiKey  string
)

var rootCmd = &cobra.Command{
	Use:   "cs",
	Short: "codespace CLI - run commands and join live sessions",
	Long: `codespace CLI (cs) talks to a codespace server.

It runs commands on the server, submits collaboration events to a room,
watches a room's live event stream, and manages workspace files.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", getEnvOrDefault("CODESPACE_API_URL", "http://localhost:8080"), "codespace API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("CODESPACE_API_KEY"), "codespace API key")
}

func getEnvOrDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func newClient() *client.Client {
	return client.NewClient(baseURL, apiKey)
}
