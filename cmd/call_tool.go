package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/biomcp/hub"
	"github.com/spf13/cobra"
)

var callToolCmd = &cobra.Command{
	Use:   "call-tool <server.tool> [json-args]",
	Short: "Invoke a single tool directly",
	Example: `  biomcp call-tool opentargets.search_targets '{"query": "BRAF"}'
  biomcp call-tool mygene.get_gene '{"gene_id": "ENSG00000157764"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCallTool,
}

func init() {
	rootCmd.AddCommand(callToolCmd)
}

func runCallTool(cmd *cobra.Command, args []string) error {
	argsJSON := "{}"
	if len(args) > 1 {
		argsJSON = args[1]
	}
	if !json.Valid([]byte(argsJSON)) {
		return errors.Newf("arguments are not valid JSON: %s", argsJSON)
	}

	server, _, err := hub.SplitName(args[0])
	if err != nil {
		return err
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	ctx := cmd.Context()
	if err := registry.Connect(ctx, server); err != nil {
		return err
	}

	result, err := registry.CallTool(ctx, args[0], argsJSON)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.IsError {
		return errors.Newf("tool error: %s", result.Text())
	}

	value := result.Value()
	if text, ok := value.(string); ok {
		fmt.Fprintln(out, text)
		return nil
	}
	pretty, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to render result")
	}
	fmt.Fprintln(out, string(pretty))
	return nil
}
