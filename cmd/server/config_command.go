package main

import (
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/kiliankoe/promptgate/internal/config"
	"github.com/kiliankoe/promptgate/internal/usage"
	"github.com/spf13/cobra"
)

func newConfigCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Setting", "Value"})
			for _, row := range configRows(cfg) {
				t.AppendRow(row)
			}
			t.Render()
			if err := cfg.Validate(); err != nil {
				cmd.PrintErrf("warning: %v\n", err)
			}
			return nil
		},
	}
}

func configRows(cfg config.Config) []table.Row {
	key := "(not set)"
	if cfg.OpenAIKey != "" {
		key = usage.MaskKey(cfg.OpenAIKey)
	}
	baseURL := cfg.OpenAIBaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return []table.Row{
		{"port", cfg.Port},
		{"openai_api_key", key},
		{"openai_base_url", baseURL},
		{"default_model", cfg.DefaultModel},
		{"request_timeout", strconv.Itoa(cfg.RequestTimeout) + "s"},
		{"upload_dir", cfg.UploadDir},
		{"max_upload_mb", strconv.Itoa(cfg.MaxUploadMB)},
		{"cors_origins", strings.Join(cfg.CORSOrigins, ",")},
		{"log_level", cfg.LogLevel},
		{"log_format", cfg.LogFormat},
	}
}
