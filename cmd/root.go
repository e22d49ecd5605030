// Package cmd implements the biomcp command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/effective-security/biomcp/chatmodel"
	"github.com/effective-security/biomcp/hub"
	"github.com/effective-security/biomcp/pkg/llmfactory"
	"github.com/effective-security/biomcp/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile     string
	llmFile     string
	serversFile string
	debugMode   bool

	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "biomcp",
	Short: "Ask biomedical questions across OpenTargets, Monarch, MyGene, MyChem and MyDisease",
	Long: `biomcp connects an LLM to biomedical MCP servers and lets it answer
research questions by calling their tools: target-disease associations,
gene annotations, drug and disease data, phenotypes.

Install the servers next to this tool (../opentargets-mcp etc.) or point
<NAME>_MCP_PATH at their locations. The LLM provider is configured with
--llm or the OPENAI_API_KEY / OPENAI_MODEL environment variables.`,
	Example: `  biomcp list-servers
  biomcp list-tools --server opentargets
  biomcp query "What drugs target BRAF and are used for melanoma?"
  biomcp chat
  biomcp web --addr :8080`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Env file to load (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&llmFile, "llm", "", "LLM provider YAML (default from OPENAI_API_KEY / OPENAI_MODEL)")
	rootCmd.PersistentFlags().StringVar(&serversFile, "servers", "", "Servers YAML adding to, or overriding, the built-in definitions")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

func initConfig() {
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if debugMode {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	} else {
		xlog.SetGlobalLogLevel(xlog.ERROR)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("biomcp %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("biomcp %s\n", version)
}

// newRegistry assembles the server registry from the built-in definitions
// and the optional --servers file. It is a variable so tests can swap in
// a registry with a stub dialer.
var newRegistry = func() (*hub.Registry, error) {
	var opts []hub.Option
	if serversFile != "" {
		cfg, err := hub.LoadConfig(serversFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, hub.WithServers(cfg.Servers...))
	}
	return hub.NewRegistry(opts...), nil
}

// newModel creates the LLM from --llm or the environment.
func newModel() (llms.Model, error) {
	f, err := llmfactory.Load(llmFile)
	if err != nil {
		return nil, err
	}
	return f.DefaultModel()
}

// newRunContext returns a context carrying a fresh chat session.
func newRunContext() context.Context {
	chatCtx := chatmodel.NewChatContext("cli", chatmodel.NewChatID(), nil)
	return chatmodel.WithChatContext(context.Background(), chatCtx)
}
