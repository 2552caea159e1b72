package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// DefaultAPIURL — адрес API по умолчанию.
const DefaultAPIURL = "http://localhost:8080"

// NewRootCmd собирает корневую команду conduit.
func NewRootCmd(version string, stdout, stderr io.Writer) *cobra.Command {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "conduit",
		Short:         "Conduit CLI: durable workflow engine client",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	defaultURL := DefaultAPIURL
	if v := os.Getenv("CONDUIT_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "API server URL (env CONDUIT_API_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *Client { return NewClient(apiURL) }
	outputFn := func() *Output { return NewOutputTo(jsonOutput, stdout, stderr) }

	rootCmd.AddCommand(
		NewWorkflowCmd(clientFn, outputFn),
		NewRunCmd(clientFn, outputFn),
		NewScheduleCmd(clientFn, outputFn),
		NewExecuteCmd(clientFn, outputFn),
		NewStatusCmd(clientFn, outputFn),
		NewActionsCmd(clientFn, outputFn),
	)

	return rootCmd
}
