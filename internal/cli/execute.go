package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewExecuteCmd создаёт команду отправки inline-определения.
func NewExecuteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "execute FILE",
		Short: "Submit a workflow definition for execution ('-' for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			definition, err := readDefinition(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			resp, err := clientFn().Execute(cmd.Context(), definition)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Workflow started: %s", resp.RunID))
			out.Print([]string{"RUN_ID", "QUEUE", "STATUS"},
				[][]string{{resp.RunID, resp.TaskQueue, resp.Status}}, resp)
			return nil
		},
	}
}

// NewStatusCmd создаёт команду запроса статуса run.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Show the status and report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			status, err := clientFn().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Print([]string{"RUN_ID", "STATUS"}, [][]string{{status.RunID, status.Status}}, status)
			if len(status.Report) > 0 && !out.jsonMode {
				out.JSON(status.Report)
			}
			return nil
		},
	}
}

// NewActionsCmd создаёт команду вывода каталога типов шагов.
func NewActionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List step types known to the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			actions, err := clientFn().Actions(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"TYPE", "TIMEOUT", "MAX_ATTEMPTS", "DESCRIPTION"}
			rows := make([][]string, len(actions))
			for i, a := range actions {
				rows[i] = []string{a.Type, policyTimeout(a.Policy), policyRetryAttempts(a.Policy), a.Description}
			}

			outputFn().Print(headers, rows, actions)
			return nil
		},
	}
}

// policyTimeout форматирует timeout (time.Duration в наносекундах).
func policyTimeout(policy map[string]any) string {
	if ns, ok := policy["timeout"].(float64); ok {
		return time.Duration(ns).String()
	}
	return ""
}

func policyRetryAttempts(policy map[string]any) string {
	retry, ok := policy["retry"].(map[string]any)
	if !ok {
		return ""
	}
	if n, ok := retry["max_attempts"].(float64); ok {
		return strconv.Itoa(int(n))
	}
	return ""
}
