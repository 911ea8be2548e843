package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/watergrow/internal/client"
	"github.com/MarcoPoloResearchLab/watergrow/internal/config"
	"github.com/MarcoPoloResearchLab/watergrow/internal/logging"
	"github.com/MarcoPoloResearchLab/watergrow/internal/prefs"
	"github.com/MarcoPoloResearchLab/watergrow/internal/session"
	"github.com/MarcoPoloResearchLab/watergrow/internal/terminal"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	clientConfig = config.NewClientViper()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "watergrow",
		Short: "Shared hydration tracker for two",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	defaults := config.NewClientViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-url", defaults.GetString("server.url"), "WaterGrow API base URL")
	cmd.PersistentFlags().String("state-path", defaults.GetString("state.path"), "Local state file")
	cmd.PersistentFlags().String("notifications", defaults.GetString("notifications.permission"), "Notification permission (default, granted, denied)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("request-timeout-seconds", defaults.GetInt("request.timeout_seconds"), "API request timeout in seconds")

	bindFlag(cmd, "server.url", "server-url")
	bindFlag(cmd, "state.path", "state-path")
	bindFlag(cmd, "notifications.permission", "notifications")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "request.timeout_seconds", "request-timeout-seconds")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := clientConfig.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	clientConfig.SetConfigFile(cfgFile)
	return clientConfig.ReadInConfig()
}

func runClient(ctx context.Context) error {
	cfg, err := config.LoadClient(clientConfig)
	if err != nil {
		return err
	}

	logger, err := logging.NewConsoleLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	permission, err := session.ParsePermission(cfg.NotificationPermission)
	if err != nil {
		return err
	}

	flags, err := prefs.NewFileFlagStore(cfg.StatePath)
	if err != nil {
		return err
	}

	apiClient, err := client.New(client.Config{
		BaseURL:    cfg.ServerURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		Dialer:     &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shell := terminal.NewShell(nil, os.Stdout)
	controller, err := session.NewController(session.ControllerConfig{
		Backend:  apiClient,
		Flags:    flags,
		Notifier: terminal.NewBellNotifier(permission, os.Stdout),
		Listener: shell,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer controller.Close()

	shell.Bind(controller)
	if err := controller.Start(); err != nil {
		return err
	}
	return shell.Run(signalCtx, os.Stdin)
}
