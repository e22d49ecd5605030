package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/effective-security/biomcp/hub"
	"github.com/effective-security/biomcp/mcp"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

const toolsShownPerServer = 10

var (
	listToolsServers    []string
	listToolsCapability string
)

var listToolsCmd = &cobra.Command{
	Use:   "list-tools",
	Short: "Connect to servers and list their tools",
	Example: `  biomcp list-tools
  biomcp list-tools --server opentargets --server mygene
  biomcp list-tools --capability drug`,
	RunE: runListTools,
}

func init() {
	listToolsCmd.Flags().StringArrayVarP(&listToolsServers, "server", "s", nil, "Server to list (repeatable; default all installed)")
	listToolsCmd.Flags().StringVarP(&listToolsCapability, "capability", "c", "", "Search tools by capability instead of listing")
	rootCmd.AddCommand(listToolsCmd)
}

func runListTools(cmd *cobra.Command, args []string) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	ctx := cmd.Context()
	if err := registry.Connect(ctx, listToolsServers...); err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if listToolsCapability != "" {
		refs := registry.FindTools(listToolsCapability)
		if len(refs) == 0 {
			fmt.Fprintf(out, "No tools matching %q\n", listToolsCapability)
			return nil
		}
		fmt.Fprintf(out, "Tools matching %q:\n", listToolsCapability)
		for _, ref := range refs {
			fmt.Fprintf(out, "  %s  %s\n", ref.ID, firstLine(ref.Tool.Description))
		}
		return nil
	}

	byServer := make(map[string][]hub.ToolRef)
	for _, ref := range registry.Tools(listToolsServers...) {
		byServer[ref.Server] = append(byServer[ref.Server], ref)
	}
	servers := make([]string, 0, len(byServer))
	for name := range byServer {
		servers = append(servers, name)
	}
	sort.Strings(servers)

	for _, name := range servers {
		refs := byServer[name]
		fmt.Fprintf(out, "%s (%d tools):\n", name, len(refs))
		for i, ref := range refs {
			if i == toolsShownPerServer {
				fmt.Fprintf(out, "  ... +%d more\n", len(refs)-toolsShownPerServer)
				break
			}
			fmt.Fprintf(out, "  %s(%s)\n", ref.Tool.Name, strings.Join(paramNames(ref.Tool), ", "))
			if d := firstLine(ref.Tool.Description); d != "" {
				fmt.Fprintf(out, "      %s\n", d)
			}
		}
		fmt.Fprintln(out)
	}
	return nil
}

// paramNames extracts the parameter names from the tool's raw input schema,
// marking required ones with a trailing asterisk.
func paramNames(tool mcp.Tool) []string {
	if len(tool.InputSchema) == 0 {
		return nil
	}
	required := make(map[string]bool)
	for _, name := range gjson.GetBytes(tool.InputSchema, "required").Array() {
		required[name.String()] = true
	}
	var names []string
	gjson.GetBytes(tool.InputSchema, "properties").ForEach(func(key, _ gjson.Result) bool {
		name := key.String()
		if required[name] {
			name += "*"
		}
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return line
}
