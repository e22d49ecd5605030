package cmd

import (
	"fmt"
	"time"

	"github.com/effective-security/biomcp/agent"
	"github.com/effective-security/biomcp/callbacks"
	"github.com/spf13/cobra"
)

var (
	queryServers       []string
	queryMaxSteps      int
	queryShowReasoning bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a one-shot research question",
	Example: `  biomcp query "What drugs target BRAF and are used for melanoma?"
  biomcp query "Which genes are associated with type 2 diabetes?" --show-reasoning`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVarP(&queryServers, "server", "s", nil, "Server to use (repeatable; default all installed)")
	queryCmd.Flags().IntVar(&queryMaxSteps, "max-steps", agent.DefaultMaxSteps, "Maximum reasoning steps")
	queryCmd.Flags().BoolVar(&queryShowReasoning, "show-reasoning", false, "Print the reasoning trace")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	ctx := newRunContext()
	if err := registry.Connect(ctx, queryServers...); err != nil {
		return err
	}

	model, err := newModel()
	if err != nil {
		return err
	}

	scratchpad := callbacks.NewScratchpad(callbacks.ModeDefault)
	researcher, err := agent.NewResearcher(model, registry,
		agent.WithMaxSteps(queryMaxSteps),
		agent.WithCallback(scratchpad),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	scratchpad.StartRun(ctx)
	started := time.Now()
	var answer string
	resp, err := researcher.Call(ctx, &agent.CallInput{Input: args[0]})
	elapsed := time.Since(started)
	stats, trace := scratchpad.EndRun(ctx)
	if err != nil {
		if queryShowReasoning && len(trace) > 0 {
			fmt.Fprintln(out, string(trace))
		}
		return err
	}
	if len(resp.Choices) > 0 {
		answer = resp.Choices[0].Content
	}

	fmt.Fprintln(out, answer)
	fmt.Fprintf(out, "\nElapsed: %s", elapsed.Round(time.Millisecond))
	if stats != nil {
		fmt.Fprintf(out, ", tool calls: %d, tokens: %d", stats.ToolsCalls, stats.LLMTotalTokens)
	}
	fmt.Fprintln(out)

	if queryShowReasoning && len(trace) > 0 {
		fmt.Fprintln(out, "\nReasoning trace:")
		fmt.Fprintln(out, string(trace))
	}
	return nil
}
