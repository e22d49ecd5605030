package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listServersCmd = &cobra.Command{
	Use:   "list-servers",
	Short: "List the configured MCP servers and whether they are installed",
	RunE:  runListServers,
}

func init() {
	rootCmd.AddCommand(listServersCmd)
}

func runListServers(cmd *cobra.Command, args []string) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tDESCRIPTION\tCAPABILITIES\tPATH\tSTATUS")
	for _, srv := range registry.Servers() {
		status := "Missing"
		if srv.Found {
			status = "Found"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			srv.Name,
			srv.Description,
			strings.Join(srv.Capabilities, ", "),
			srv.Path,
			status,
		)
	}
	return tw.Flush()
}
