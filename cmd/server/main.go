package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/devhabit/devhabit/internal/authkit"
	"github.com/devhabit/devhabit/internal/database"
	"github.com/devhabit/devhabit/internal/github"
	"github.com/devhabit/devhabit/internal/profiles"
	"github.com/devhabit/devhabit/internal/secretbox"
	"github.com/devhabit/devhabit/internal/web"
	"github.com/devhabit/devhabit/pkg/accesstoken"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "devhabit",
		Short:   "DevHabit API: account registration, JWT access tokens and rotating refresh tokens",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("database_url", "", "Database URL (postgres:// or sqlite:)")
	rootCmd.Flags().String("jwt_key", "", "HS256 signing secret for access tokens, at least 32 bytes")
	rootCmd.Flags().String("jwt_issuer", "", "Access token issuer claim")
	rootCmd.Flags().String("jwt_audience", "", "Access token audience claim")
	rootCmd.Flags().Int("jwt_expiration_minutes", 30, "Access token lifetime in minutes")
	rootCmd.Flags().Int("refresh_token_expiration_days", 7, "Refresh token lifetime in days")
	rootCmd.Flags().String("encryption_key", "", "Base64 encoded 32-byte key for secrets stored at rest")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for browser clients")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().Duration("user_context_cache_ttl", 30*time.Minute, "How long resolved user ids stay cached")
	rootCmd.Flags().String("github_api_base_url", github.DefaultBaseURL, "GitHub REST API base URL")

	for _, name := range []string{
		"listen_addr",
		"database_url",
		"jwt_key",
		"jwt_issuer",
		"jwt_audience",
		"jwt_expiration_minutes",
		"refresh_token_expiration_days",
		"encryption_key",
		"enable_cors",
		"cors_allowed_origins",
		"user_context_cache_ttl",
		"github_api_base_url",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("DEVHABIT")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	configCodeMissingDatabaseURL      = "config.missing_database_url"
	configCodeMissingJWTKey           = "config.missing_jwt_key"
	configCodeShortJWTKey             = "config.short_jwt_key"
	configCodeMissingJWTIssuer        = "config.missing_jwt_issuer"
	configCodeMissingJWTAudience      = "config.missing_jwt_audience"
	configCodeInvalidJWTExpiration    = "config.invalid_jwt_expiration_minutes"
	configCodeInvalidRefreshExpiry    = "config.invalid_refresh_token_expiration_days"
	configCodeMissingEncryptionKey    = "config.missing_encryption_key"
	configCodeInvalidEncryptionKey    = "config.invalid_encryption_key"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeInvalidCacheTTL         = "config.invalid_user_context_cache_ttl"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeDotEnv                  = "config.dotenv"
)

// ServerConfig is the validated process configuration.
type ServerConfig struct {
	ListenAddr          string
	DatabaseURL         string
	Auth                authkit.JWTAuthOptions
	EncryptionKey       string
	EnableCORS          bool
	CORSAllowedOrigins  []string
	UserContextCacheTTL time.Duration
	GitHubAPIBaseURL    string
}

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return configError(configCodeDotEnv, err.Error())
	}
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (ServerConfig, error) {
	databaseURL := strings.TrimSpace(viper.GetString("database_url"))
	if databaseURL == "" {
		return ServerConfig{}, configError(configCodeMissingDatabaseURL, "database_url must be provided")
	}

	jwtKey := viper.GetString("jwt_key")
	if jwtKey == "" {
		return ServerConfig{}, configError(configCodeMissingJWTKey, "jwt_key must be provided")
	}
	if len(jwtKey) < authkit.MinimumSigningKeyLength {
		return ServerConfig{}, configError(configCodeShortJWTKey, fmt.Sprintf("jwt_key must be at least %d bytes", authkit.MinimumSigningKeyLength))
	}

	jwtIssuer := strings.TrimSpace(viper.GetString("jwt_issuer"))
	if jwtIssuer == "" {
		return ServerConfig{}, configError(configCodeMissingJWTIssuer, "jwt_issuer must be provided")
	}
	jwtAudience := strings.TrimSpace(viper.GetString("jwt_audience"))
	if jwtAudience == "" {
		return ServerConfig{}, configError(configCodeMissingJWTAudience, "jwt_audience must be provided")
	}

	expirationMinutes := viper.GetInt("jwt_expiration_minutes")
	if expirationMinutes <= 0 {
		return ServerConfig{}, configError(configCodeInvalidJWTExpiration, "jwt_expiration_minutes must be greater than zero")
	}
	refreshDays := viper.GetInt("refresh_token_expiration_days")
	if refreshDays <= 0 {
		return ServerConfig{}, configError(configCodeInvalidRefreshExpiry, "refresh_token_expiration_days must be greater than zero")
	}

	encryptionKey := strings.TrimSpace(viper.GetString("encryption_key"))
	if encryptionKey == "" {
		return ServerConfig{}, configError(configCodeMissingEncryptionKey, "encryption_key must be provided")
	}
	if decoded, err := base64.StdEncoding.DecodeString(encryptionKey); err != nil || len(decoded) != secretbox.KeyLength {
		return ServerConfig{}, configError(configCodeInvalidEncryptionKey, fmt.Sprintf("encryption_key must be base64 of %d bytes", secretbox.KeyLength))
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return ServerConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	cacheTTL := viper.GetDuration("user_context_cache_ttl")
	if cacheTTL <= 0 {
		return ServerConfig{}, configError(configCodeInvalidCacheTTL, "user_context_cache_ttl must be greater than zero")
	}

	listenAddr := viper.GetString("listen_addr")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return ServerConfig{
		ListenAddr:  listenAddr,
		DatabaseURL: databaseURL,
		Auth: authkit.JWTAuthOptions{
			SigningKey:     []byte(jwtKey),
			Issuer:         jwtIssuer,
			Audience:       jwtAudience,
			AccessTokenTTL: time.Duration(expirationMinutes) * time.Minute,
			RefreshTTL:     time.Duration(refreshDays) * 24 * time.Hour,
		},
		EncryptionKey:       encryptionKey,
		EnableCORS:          enableCORS,
		CORSAllowedOrigins:  corsAllowedOrigins,
		UserContextCacheTTL: cacheTTL,
		GitHubAPIBaseURL:    viper.GetString("github_api_base_url"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	connection, openErr := database.Open(commandContext, serverConfig.DatabaseURL)
	if openErr != nil {
		return openErr
	}
	defer func() { _ = connection.Close() }()
	logger.Info("database connected", zap.String("driver", connection.Driver))

	for _, migrate := range []func(context.Context, *gorm.DB) error{authkit.AutoMigrate, github.AutoMigrate} {
		if err := migrate(commandContext, connection.DB); err != nil {
			return err
		}
	}

	handler, buildErr := buildRouter(serverConfig, connection.DB, logger, prometheus.NewRegistry())
	if buildErr != nil {
		return buildErr
	}

	server := &http.Server{
		Addr:              serverConfig.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalContext, stopSignals := signal.NotifyContext(commandContext, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	runContext, cancelRun := context.WithCancel(signalContext)
	defer cancelRun()

	group, groupContext := errgroup.WithContext(runContext)
	group.Go(func() error {
		defer cancelRun()
		logger.Info("listening", zap.String("addr", serverConfig.ListenAddr))
		if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupContext.Done()
		graceContext, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceContext); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
			return err
		}
		return nil
	})
	return group.Wait()
}

func buildRouter(serverConfig ServerConfig, db *gorm.DB, logger *zap.Logger, registry *prometheus.Registry) (http.Handler, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(web.RequestIDMiddleware())
	router.Use(web.ZapLoggerMiddleware(logger))

	if serverConfig.EnableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, serverConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return nil, corsErr
		}
		router.Use(corsMiddleware)
	}

	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsRecorder, metricsErr := authkit.NewPrometheusMetrics(registry)
	if metricsErr != nil {
		return nil, metricsErr
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/healthz", handleHealth(db))

	coordinator := authkit.NewCoordinator(db, authkit.GormRepositoryManager{})
	authService, serviceErr := authkit.NewService(coordinator, serverConfig.Auth, authkit.NewSystemClock(), metricsRecorder)
	if serviceErr != nil {
		return nil, serviceErr
	}
	authkit.MountAuthRoutes(router, authService, logger)

	validator, validatorErr := accesstoken.New(accesstoken.Config{
		SigningKey: serverConfig.Auth.SigningKey,
		Issuer:     serverConfig.Auth.Issuer,
		Audience:   serverConfig.Auth.Audience,
	})
	if validatorErr != nil {
		return nil, validatorErr
	}

	box, boxErr := secretbox.New(serverConfig.EncryptionKey)
	if boxErr != nil {
		return nil, boxErr
	}

	profileStore := profiles.NewStore(db)
	userContext := profiles.NewUserContext(profileStore, serverConfig.UserContextCacheTTL)
	gitHubTokens := github.NewService(github.NewStore(db), box)
	gitHubClient := github.NewClient(serverConfig.GitHubAPIBaseURL, nil)

	protected := router.Group("/")
	protected.Use(validator.GinMiddleware(accesstoken.DefaultContextKey))
	protected.GET("/users/me", profiles.HandleCurrentUser(logger, profileStore))
	github.MountRoutes(protected, userContext, gitHubTokens, gitHubClient, logger)

	return router, nil
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(contextGin.Request.Context())
		}
		if err != nil {
			contextGin.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		contextGin.Status(http.StatusNoContent)
	}
}
