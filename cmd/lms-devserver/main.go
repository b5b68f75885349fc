// lms-devserver runs the reference LMS API for local development and for
// exercising clients against a real token server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	lms "github.com/lmsapp/lmsauth"
	"github.com/lmsapp/lmsauth/oauth2"
)

const shutdownTimeout = 5 * time.Second

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:          "lms-devserver",
		Short:        "Run the LMS API development server",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}
			level, _ := cfg.level()
			logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	flags.Int("port", 0, "HTTP port (env LMS_PORT)")
	flags.Int("grpc-port", 0, "gRPC health port, 0 disables (env LMS_GRPC_PORT)")
	flags.String("store", "", "Server store: fs, gorm or datastore (env LMS_STORE)")
	flags.String("data-dir", "", "Directory for the fs store")
	flags.String("dsn", "", "SQLite DSN for the gorm store")
	flags.String("log-level", "", "debug, info, warn or error")
	for key, flag := range map[string]string{
		"port":      "port",
		"grpc_port": "grpc-port",
		"store":     "store",
		"data_dir":  "data-dir",
		"dsn":       "dsn",
		"log_level": "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp builds the API server over b
func newApp(cfg *Config, b *backend, logger *slog.Logger) *lms.Server {
	app := &lms.Server{
		Users:              b.Users,
		RefreshTokens:      b.RefreshTokens,
		ResetCodes:         b.ResetCodes,
		AppName:            cfg.AppName,
		JWTSecretKey:       cfg.JWTSecret,
		AccessTokenExpiry:  cfg.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.RefreshTokenExpiry,
		Logger:             logger,
	}
	for _, name := range cfg.IdentityProviders {
		switch name {
		case "google":
			g := oauth2.NewGoogleOAuth2()
			g.Logger = logger
			app.IdentityProviders = append(app.IdentityProviders, g)
		case "github":
			g := oauth2.NewGithubOAuth2()
			g.Logger = logger
			app.IdentityProviders = append(app.IdentityProviders, g)
		}
	}
	return app.EnsureDefaults()
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger, out io.Writer) error {
	displayAppname(out, cfg.AppName)

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	app := newApp(cfg, b, logger)
	server := &http.Server{
		Addr:              cfg.addr(),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() { errc <- listenAndServe(server, logger) }()

	if cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer, hs := newGRPCServer(app, logger)
		go func() {
			logger.Info("grpc server listening", "addr", lis.Addr().String())
			if err := grpcServer.Serve(lis); err != nil {
				errc <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
		defer func() {
			hs.Shutdown()
			grpcServer.GracefulStop()
		}()
	}

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go sweepExpiredTokens(sweepCtx, b.RefreshTokens, cfg.CleanupInterval, logger)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errc:
		if err != nil {
			return err
		}
	}
	return shutdown(server)
}

func listenAndServe(server *http.Server, logger *slog.Logger) error {
	logger.Info("server listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe: %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(out io.Writer, appname string) {
	fig := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(out, fig.String())
}
