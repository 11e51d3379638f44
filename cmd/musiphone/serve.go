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
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/metasound/musiphone/internal/approval"
	"github.com/metasound/musiphone/internal/catalog/sqlite"
	"github.com/metasound/musiphone/internal/cluster"
	"github.com/metasound/musiphone/internal/config"
	"github.com/metasound/musiphone/internal/gateway"
	"github.com/metasound/musiphone/internal/logging"
	"github.com/metasound/musiphone/internal/server"
	"github.com/metasound/musiphone/internal/storage"
)

func newServeCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.String("listen", "", "listen address (server.listen)")
	flags.String("address", "", "public host:port of this node (server.address)")
	flags.String("data-dir", "", "directory for songs and the catalog (storage.data_dir)")
	flags.String("trust-file", "", "trusted peers, one per line (network.trust_file)")
	flags.String("log-level", "", "debug, info, warn or error (logging.level)")

	for key, flag := range map[string]string{
		"server.listen":      "listen",
		"server.address":     "address",
		"storage.data_dir":   "data-dir",
		"network.trust_file": "trust-file",
		"logging.level":      "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

// node is a fully wired musiphone node
type node struct {
	handler http.Handler
	trust   *cluster.TrustList
	closers []io.Closer
}

func (n *node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i].Close())
	}
	return errors.Join(errs...)
}

// newNode opens the stores under the data directory and wires the gateway
// and HTTP server around them
func newNode(cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{trust: cluster.NewTrustList()}

	catalogStore, err := sqlite.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	n.closers = append(n.closers, catalogStore)

	files, err := storage.NewDiskStore(filepath.Join(cfg.Storage.DataDir, "files"))
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("opening file storage: %w", err)
	}

	if cfg.Network.TrustFile != "" {
		if err := n.trust.LoadFile(cfg.Network.TrustFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			n.Close()
			return nil, err
		}
	}

	board := approval.NewBoard(cfg.Approval.Timeout)
	gw, err := gateway.New(gateway.Deps{
		Node:     cluster.NewNode(cfg.Server.Address),
		Trust:    n.trust,
		Approval: board,
		Catalog:  catalogStore,
		Files:    files,
	}, gateway.Options{
		CacheMaxAge:         cfg.File.CacheMaxAge(),
		SimilarityThreshold: cfg.Music.Similarity,
		QueueTimeout:        cfg.Queue.Timeout,
		QueueMaxWaiting:     cfg.Queue.MaxWaiting,
		RequestsPerSecond:   cfg.Network.RequestsPerSecond,
		Burst:               cfg.Network.Burst,
	})
	if err != nil {
		n.Close()
		return nil, err
	}

	srv := server.New(server.Deps{
		Gateway: gw,
		Catalog: catalogStore,
		Files:   files,
		Board:   board,
		Logger:  logger,
	}, cfg.File.MaxSize)
	n.handler = srv.Handler()

	logger.Info("node initialized",
		"address", cfg.Server.Address,
		"catalog", catalogStore.Path(),
		"trusted", n.trust.Len(),
	)
	return n, nil
}

// run serves the node until ctx is done, then shuts down gracefully
func run(ctx context.Context, cfg *config.Config, logOut io.Writer) error {
	logger := logging.New(logOut, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	n, err := newNode(cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	if cfg.Network.TrustFile != "" {
		go func() {
			if err := n.trust.Watch(ctx, cfg.Network.TrustFile, logger); err != nil {
				logger.Error("trust file watch stopped", "error", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s := &http.Server{
		Handler:           n.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout, // Prevent slowloris attacks
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "listen", ln.Addr().String(), "public", cfg.Server.Address)
		serveErr <- s.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	logger.Info("node stopped")
	return nil
}
