// Package cli defines the ccproxy command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/ccproxy-dev/ccproxy/internal/config"
)

// Version is stamped by the build.
var Version = "dev"

type rootOptions struct {
	configDir string
	logLevel  string
}

// NewRootCommand builds the ccproxy command.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:     "ccproxy",
		Short:   "Reverse proxy translating between LLM provider API formats",
		Version: Version,
		Long: `ccproxy accepts Anthropic Messages, OpenAI Chat Completions, and OpenAI
Responses requests, translates them to a provider's native format, manages
the provider's OAuth credentials, and streams converted responses back.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "", "configuration directory (default: XDG config dir)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newAuthCommand(opts))
	return cmd
}

func (o *rootOptions) loadSettings() (*config.Settings, error) {
	var loadOpts []config.Option
	if o.configDir != "" {
		loadOpts = append(loadOpts, config.WithConfigDir(o.configDir))
	}
	settings, err := config.Load(loadOpts...)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		settings.LogLevel = o.logLevel
	}
	settings.SetupLogging()
	return settings, nil
}
