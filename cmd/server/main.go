// Package main initializes and starts the gophvault record store: an HTTPS
// server holding each identity's encrypted credential documents.
package main

import (
	"cmp"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/atinyakov/gophvault/internal/certgen"
	"github.com/atinyakov/gophvault/internal/config"
	"github.com/atinyakov/gophvault/internal/db"
	"github.com/atinyakov/gophvault/internal/logger"
	"github.com/atinyakov/gophvault/internal/metrics"
	"github.com/atinyakov/gophvault/internal/repository"
	"github.com/atinyakov/gophvault/internal/server/handler/http"
	"github.com/atinyakov/gophvault/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	options, err := config.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	log := logger.New()
	if err := log.Init(options.Log.Level); err != nil {
		fmt.Fprintln(os.Stderr, "failed to init logger:", err)
		os.Exit(1)
	}
	zapLogger := log.Log
	defer func() { _ = zapLogger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	postgresDB, err := db.InitPostgres(options.Server.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	m := metrics.New()

	db.StartSoftDeleteCleaner(ctx, postgresDB,
		options.Server.CleanerInterval,
		options.Server.Retention,
		zapLogger,
		m,
	)

	authRepo := repository.NewPostgresAuthRepository(postgresDB)
	credRepo := repository.NewPostgresCredentialRepository(postgresDB)

	authService := service.NewAuthService(authRepo)
	credService := service.NewCredentialService(credRepo)

	authHandler := &http.AuthHandler{AuthService: authService, CertDir: options.Server.CertDir, Log: zapLogger}
	credHandler := &http.CredentialHandler{CredentialService: credService, Log: zapLogger}

	router := http.NewRouter(authHandler, credHandler, m, zapLogger)

	tlsConfig, err := serverTLSConfig(options.Server.CertDir)
	if err != nil {
		zapLogger.Fatal("failed to load TLS material", zap.Error(err))
	}

	server := &nethttp.Server{
		Addr:              options.Server.Addr,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	zapLogger.Info("starting HTTPS server", zap.String("addr", options.Server.Addr))
	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		zapLogger.Fatal("failed to start HTTPS server", zap.Error(err))
	}
	zapLogger.Info("server stopped")
}

// serverTLSConfig loads the server pair and the CA that signs client
// certificates. Client certificates are verified when presented so that
// registration stays reachable without one.
func serverTLSConfig(dir string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(
		filepath.Join(dir, certgen.ServerCertFile),
		filepath.Join(dir, certgen.ServerKeyFile),
	)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}

	caCert, err := os.ReadFile(filepath.Join(dir, certgen.CACertFile))
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append CA cert to pool")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.VerifyClientCertIfGiven,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
