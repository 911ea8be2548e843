package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/watergrow/internal/auth"
	"github.com/MarcoPoloResearchLab/watergrow/internal/config"
	"github.com/MarcoPoloResearchLab/watergrow/internal/database"
	"github.com/MarcoPoloResearchLab/watergrow/internal/logging"
	"github.com/MarcoPoloResearchLab/watergrow/internal/rooms"
	"github.com/MarcoPoloResearchLab/watergrow/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "watergrow-api",
		Short: "WaterGrow shared room backend",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Room ticket signing secret (overrides env)")
	cmd.PersistentFlags().Int("ticket-ttl-minutes", defaults.GetInt("ticket.ttl_minutes"), "Room ticket TTL in minutes")
	cmd.PersistentFlags().Int("feed-buffer-size", defaults.GetInt("feed.buffer_size"), "Per-subscriber change feed buffer")
	cmd.PersistentFlags().Int("feed-heartbeat-seconds", defaults.GetInt("feed.heartbeat_seconds"), "Stream heartbeat interval in seconds")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for cross-instance fan-out (empty disables)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "ticket.signing_secret", "signing-secret")
	bindFlag(cmd, "ticket.ttl_minutes", "ticket-ttl-minutes")
	bindFlag(cmd, "feed.buffer_size", "feed-buffer-size")
	bindFlag(cmd, "feed.heartbeat_seconds", "feed-heartbeat-seconds")
	bindFlag(cmd, "redis.address", "redis-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := server.NewRealtimeDispatcher(appConfig.FeedBufferSize)
	var publisher rooms.Publisher = dispatcher
	if appConfig.RedisAddress != "" {
		redisClient, err := server.NewRedisClient(signalCtx, server.RedisConfig{
			Address:  appConfig.RedisAddress,
			Password: appConfig.RedisPassword,
			DB:       appConfig.RedisDB,
		})
		if err != nil {
			return err
		}
		defer redisClient.Close()

		relay, err := server.NewRedisRelay(redisClient, dispatcher, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := relay.Run(signalCtx); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
		publisher = relay
	}

	roomService, err := rooms.NewService(rooms.ServiceConfig{
		Database:  db,
		Clock:     time.Now,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ticketIssuer, err := auth.NewTicketIssuer(auth.TicketIssuerConfig{
		SigningSecret: []byte(appConfig.TicketSigningSecret),
		Issuer:        appConfig.TicketIssuer,
		Audience:      appConfig.TicketAudience,
		TicketTTL:     appConfig.TicketTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Rooms:             roomService,
		Tickets:           ticketIssuer,
		Realtime:          dispatcher,
		Logger:            logger,
		HeartbeatInterval: appConfig.FeedHeartbeat,
	})
	if err != nil {
		return err
	}

	// Streams hold their connections open; cancelling the base context on
	// shutdown ends them so Shutdown can drain.
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()
	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
		BaseContext: func(net.Listener) context.Context {
			return streamCtx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("redis_relay", appConfig.RedisAddress != ""))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		cancelStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
