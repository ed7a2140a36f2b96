package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // Set at build time via -ldflags

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		port       string
		configPath string
	)
	root := &cobra.Command{
		Use:   "promptgate",
		Short: "LLM prompt proxy with document and image sources",
		Long: `promptgate proxies prompts to OpenAI, optionally grounded on an uploaded
PDF or image. The first 3 completions use the operator key; after that callers
must set their own key.

Environment Variables:
  PORT                Port to listen on (default: 8080)
  OPENAI_API_KEY      OpenAI API key (required)
  OPENAI_BASE_URL     Custom OpenAI API base URL (optional)
  DEFAULT_MODEL       Model for every completion (default: gpt-4)
  REQUEST_TIMEOUT     Provider timeout in seconds (default: 60)
  UPLOAD_DIR          Working directory for uploads (default: ./uploads)
  MAX_UPLOAD_MB       Upload size limit (default: 32)
  CORS_ORIGINS        Comma separated allowed origins (default: *)
  LOG_LEVEL           debug, info, warn, error (default: info)
  LOG_FORMAT          auto, console, json (default: auto)
  PROMPTGATE_CONFIG   Path to a TOML config file (optional)`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, port)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to TOML config file (overrides PROMPTGATE_CONFIG)")
	root.Flags().StringVar(&port, "port", "", "Port to listen on (overrides PORT env var)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "promptgate %s\n", version)
		},
	})
	root.AddCommand(newConfigCommand(&configPath))
	return root
}
