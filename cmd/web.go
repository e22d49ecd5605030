package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/effective-security/biomcp/store"
	"github.com/effective-security/biomcp/web"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	webAddr    string
	webServers []string
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the research UI and JSON API",
	Long: `Serves the single-page research UI with chat, direct query, a tools
explorer and chat history. Chat history is kept in memory, or in Redis
when REDIS_ADDR is set.`,
	Example: `  biomcp web
  biomcp web --addr :9090 --server opentargets --server mygene`,
	RunE: runWeb,
}

func init() {
	webCmd.Flags().StringVar(&webAddr, "addr", ":8080", "Listen address")
	webCmd.Flags().StringArrayVarP(&webServers, "server", "s", nil, "Server to connect (repeatable; default all installed)")
	rootCmd.AddCommand(webCmd)
}

func runWeb(cmd *cobra.Command, args []string) error {
	registry, err := newRegistry()
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registry.Connect(ctx, webServers...); err != nil {
		return err
	}

	model, err := newModel()
	if err != nil {
		return err
	}

	chatStore := newChatStore()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://localhost%s\n", webAddr)
	return web.New(registry, model, chatStore).Run(ctx, webAddr)
}

// newChatStore selects Redis when REDIS_ADDR is set, in-memory otherwise.
func newChatStore() store.MessageStoreManager {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		return store.NewRedisStore(client, "biomcp")
	}
	return store.NewMemoryStore()
}
