package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strongmind/rtvi-gateway/pkg/auth"
	"github.com/strongmind/rtvi-gateway/pkg/bot"
	"github.com/strongmind/rtvi-gateway/pkg/config"
	"github.com/strongmind/rtvi-gateway/pkg/daily"
	"github.com/strongmind/rtvi-gateway/pkg/handler"
	"github.com/strongmind/rtvi-gateway/pkg/jwks"
	"github.com/strongmind/rtvi-gateway/pkg/utils"
	"github.com/strongmind/rtvi-gateway/pkg/verifier"
	"github.com/strongmind/rtvi-gateway/pkg/version"
)

// Settings for the gateway server
type ServerSettings struct {
	Host       string
	Port       int
	ConfigPath string
	LogLevel   string
}

func main() {
	settings := parseCliFlags()
	setupLogging(settings.LogLevel)

	versionInfo := version.Get()
	slog.Info(fmt.Sprintf("Starting %s", versionInfo.BinName),
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.Commit),
		slog.String("date", versionInfo.Date),
	)

	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// CLI flags win over config for the listener address
	if settings.Host != "" {
		cfg.Server.Host = settings.Host
	}
	if settings.Port != 0 {
		cfg.Server.Port = settings.Port
	}

	authenticator, err := buildAuthenticator(cfg)
	if err != nil {
		slog.Error("Failed to initialize authentication", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rooms := daily.NewClient(cfg.Daily)
	bots := bot.NewManager(cfg.Bot)

	router := handler.New(cfg, rooms, bots, authenticator).Router()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Handle graceful shutdown
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop

		slog.Info("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server shutdown error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("Listening",
		slog.String("addr", addr),
		slog.Bool("jwtEnabled", cfg.JWT.Enabled),
		slog.String("issuer", cfg.JWT.Issuer))

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("Server stopped")
}

// buildAuthenticator wires the JWKS cache, resolver and token verifier
// behind the authentication gate. With JWT disabled only the Basic-Auth path
// is constructed.
func buildAuthenticator(cfg *config.Config) (*auth.Authenticator, error) {
	if !cfg.JWT.Enabled {
		return auth.NewAuthenticator(cfg, nil), nil
	}

	store, err := jwks.NewStore(cfg.Cache)
	if err != nil {
		return nil, err
	}

	opts := []jwks.CacheOption{}
	if store != nil {
		opts = append(opts, jwks.WithStore(store))
	}

	source := jwks.NewHTTPSource(cfg.JWT.JWKSURL, jwks.DefaultFetchTimeout)
	cache := jwks.NewCache(source, cfg.Cache.Freshness, opts...)

	warmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cache.WarmFromStore(warmCtx)

	tokenVerifier := verifier.NewTokenVerifier(cfg, jwks.NewResolver(cache))
	return auth.NewAuthenticator(cfg, tokenVerifier), nil
}

func parseCliFlags() ServerSettings {
	settings := ServerSettings{}

	flag.StringVar(&settings.Host, "host", "", "Host address to listen on")
	flag.IntVar(&settings.Port, "port", 0, "Port to listen on")
	flag.StringVar(&settings.ConfigPath, "config", "", "Path to config file")
	flag.StringVar(&settings.LogLevel, "log-level", utils.GetEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	flag.Parse()

	// Set config path as environment variable if provided
	if settings.ConfigPath != "" {
		if err := os.Setenv("CONFIG_PATH", settings.ConfigPath); err != nil {
			slog.Error("Error setting CONFIG_PATH environment variable", "error", err)
		}
	}

	return settings
}

func setupLogging(level string) {
	logLevel, err := utils.ParseLogLevel(level)
	if err != nil {
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	slog.SetDefault(slog.New(handler))
}
