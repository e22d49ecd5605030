package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/biomcp/agent"
	"github.com/effective-security/biomcp/callbacks"
	"github.com/effective-security/biomcp/store"
	"github.com/spf13/cobra"
)

var chatServers []string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive research chat",
	Long: `Starts an interactive chat session with history. Special commands:
  help      show this help
  tools     list the available tools
  servers   list the connected servers
  clear     reset the conversation history
  exit      leave the chat (also: quit)`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringArrayVarP(&chatServers, "server", "s", nil, "Server to use (repeatable; default all installed)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	ctx := newRunContext()
	if err := registry.Connect(ctx, chatServers...); err != nil {
		return err
	}

	model, err := newModel()
	if err != nil {
		return err
	}

	memStore := store.NewMemoryStore()
	opts := []agent.Option{agent.WithStore(memStore)}
	if debugMode {
		opts = append(opts, agent.WithCallback(callbacks.NewPrinter(cmd.ErrOrStderr(), callbacks.ModeDefault)))
	}
	researcher, err := agent.NewResearcher(model, registry, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected servers: %s\n", strings.Join(registry.Connected(), ", "))
	fmt.Fprintln(out, `Ask a biomedical question, or type "help".`)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case "exit", "quit":
			return nil
		case "help":
			fmt.Fprintln(out, cmd.Long)
			continue
		case "tools":
			printChatTools(out, researcher)
			continue
		case "servers":
			for _, srv := range registry.Servers() {
				if srv.Connected {
					fmt.Fprintf(out, "  %s: %s (%d tools)\n", srv.Name, srv.Description, srv.ToolCount)
				}
			}
			continue
		case "clear":
			if err := memStore.Reset(ctx); err != nil {
				fmt.Fprintf(out, "failed to clear history: %v\n", err)
			} else {
				fmt.Fprintln(out, "History cleared.")
			}
			continue
		}

		resp, err := researcher.Call(ctx, &agent.CallInput{Input: line})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if len(resp.Choices) > 0 {
			fmt.Fprintln(out, resp.Choices[0].Content)
		}
	}
}

func printChatTools(out io.Writer, researcher *agent.Researcher) {
	list := researcher.GetTools()
	if len(list) == 0 {
		fmt.Fprintln(out, "  no tools discovered")
		return
	}
	for _, tool := range list {
		fmt.Fprintf(out, "  %s  %s\n", tool.Name(), firstLine(tool.Description()))
	}
}
