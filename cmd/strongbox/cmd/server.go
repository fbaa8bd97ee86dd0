package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/vueni/strongbox/api"
	"github.com/vueni/strongbox/audit"
	"github.com/vueni/strongbox/csrf"
	"github.com/vueni/strongbox/keyring"
	"github.com/vueni/strongbox/random"
	"github.com/vueni/strongbox/securestore"
	"github.com/vueni/strongbox/session"
	bboltstorage "github.com/vueni/strongbox/storage/bbolt"
	"github.com/vueni/strongbox/storage/memory"
)

var (
	port        int
	dataDir     string
	auditURL    string
	securityURL string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the secure session and storage server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		ring := keyring.New(keyring.WithLogger(logger))

		// Fatal in production, warned-and-continued in development.
		if err := ring.ValidateSecurityEnvironment(); err != nil {
			return fmt.Errorf("refusing to start: %w", err)
		}
		ring.LogSecurityStatus()

		key, err := ring.ValidatedEncryptionKey(keyring.EnvEncryptionKey)
		if err != nil {
			if ring.Mode() == keyring.Production {
				return fmt.Errorf("refusing to start: %w", err)
			}
			// Development only: run on an ephemeral key. Nothing written
			// with it survives a restart readably.
			logger.Warn("no usable encryption key, generating ephemeral development key", "error", err)
			key = memguard.NewEnclaveRandom(32)
		}

		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		durable, err := bboltstorage.NewMediumFromFile(dataDir+"/strongbox.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open durable storage: %w", err)
		}
		defer durable.Close()

		emitter := audit.NewEmitter(auditURL, securityURL,
			audit.WithProduction(ring.Mode() == keyring.Production),
			audit.WithUserAgent("Vueni-Strongbox/"+Version),
			audit.WithLogger(logger),
		)
		defer emitter.Close()

		store := securestore.New(durable, key, emitter, securestore.WithLogger(logger))
		defer store.Close()

		rng := random.NewGenerator(random.WithLogger(logger))
		tokens := csrf.NewIssuer(memory.NewMedium(), rng)

		sessions := session.NewManager(store, rng, emitter,
			session.WithCSRFIssuer(tokens),
			session.WithLogger(logger),
		)
		sessions.Start()
		defer sessions.Stop()

		a := api.New(store, sessions, tokens, api.WithLogger(logger))

		r := chi.NewRouter()
		r.Use(chimiddleware.Logger)
		r.Use(chimiddleware.Recoverer)
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		fmt.Printf("Starting strongbox on port %d (data: %s, mode: %s)...\n", port, dataDir, ring.Mode())

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&auditURL, "audit-url", "", "Endpoint for audit events (production only)")
	serverCmd.Flags().StringVar(&securityURL, "security-url", "", "Endpoint for security events (production only)")
}
