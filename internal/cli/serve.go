package cli

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ccproxy-dev/ccproxy/internal/hooks"
	"github.com/ccproxy-dev/ccproxy/internal/plugin"
	_ "github.com/ccproxy-dev/ccproxy/internal/plugin/claude"
	"github.com/ccproxy-dev/ccproxy/internal/proxy"
	"github.com/ccproxy-dev/ccproxy/internal/scheduler"
	"github.com/ccproxy-dev/ccproxy/internal/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := opts.loadSettings()
			if err != nil {
				return err
			}
			if host != "" {
				settings.Host = host
			}
			if port != 0 {
				settings.Port = port
			}

			httpClient := &http.Client{
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 20,
					IdleConnTimeout:     90 * time.Second,
				},
			}
			hookRegistry := hooks.NewRegistry()
			sched := scheduler.New(settings.SchedulerShutdownTimeout.Std())

			pluginCtx := &plugin.Context{
				Settings:   settings,
				HTTPClient: httpClient,
				Hooks:      hookRegistry,
				Scheduler:  sched,
			}
			entries, err := plugin.Discover(settings)
			if err != nil {
				return fmt.Errorf("plugin discovery: %w", err)
			}
			registry, err := plugin.Build(pluginCtx, entries)
			if err != nil {
				return fmt.Errorf("plugin startup: %w", err)
			}
			logrus.WithField("plugins", registry.Names()).Info("Plugins loaded")

			for _, runtime := range registry.Runtimes() {
				for _, hb := range runtime.Hooks {
					hookRegistry.Register(hb.Hook, hb.Priority, hb.Events...)
				}
				for _, tb := range runtime.Tasks {
					if err := sched.Register(tb.Task, tb.Options); err != nil {
						return err
					}
				}
			}
			sched.Start()
			defer sched.Stop()
			defer shutdownPlugins(registry)

			dispatcher := proxy.NewDispatcher(registry, hooks.NewManager(hookRegistry), httpClient, settings)
			srv := server.New(settings, dispatcher, registry)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host")
	cmd.Flags().IntVar(&port, "port", 0, "listen port")
	return cmd
}

func shutdownPlugins(registry *plugin.Registry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, runtime := range registry.Runtimes() {
		if runtime.Shutdown == nil {
			continue
		}
		if err := runtime.Shutdown(ctx); err != nil {
			logrus.Warnf("Plugin shutdown failed: %v", err)
		}
	}
}
