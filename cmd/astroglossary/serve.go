package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hypergopher/astroglossary"
	"github.com/hypergopher/astroglossary/bboltstore"
	"github.com/hypergopher/astroglossary/config"
	"github.com/hypergopher/astroglossary/importer"
	"github.com/hypergopher/astroglossary/pgstore"
	"github.com/hypergopher/astroglossary/server"
	"github.com/hypergopher/astroglossary/sqlitestore"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(a *app) *cobra.Command {
	var (
		addr  string
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gallery server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("watch") {
				a.cfg.Import.Watch = watch
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-import markdown posts when they change")
	return cmd
}

func importCmd(a *app) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Import markdown posts into the configured store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.cfg.Import.Dir = args[0]
			}
			if pattern != "" {
				a.cfg.Import.Pattern = pattern
			}
			if a.cfg.Import.Dir == "" && a.cfg.Server.Seed == "" {
				return errors.New("nothing to import: pass a directory or set import.dir or server.seed")
			}

			ctx := cmd.Context()
			gallery, err := a.openGallery(ctx)
			if err != nil {
				return err
			}
			defer gallery.Close()

			if a.cfg.Import.Dir == "" {
				return nil
			}

			im, err := a.newImporter(gallery, nil)
			if err != nil {
				return err
			}

			report, err := im.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d, skipped %d\n", report.Created, report.Updated, report.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "Glob of files to import (default from import.pattern)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gallery, err := a.openGallery(ctx)
	if err != nil {
		return err
	}
	defer gallery.Close()

	srv := server.NewServer(server.Options{
		Gallery:        gallery,
		Logger:         a.logger,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	})

	var im *importer.Importer
	if a.cfg.Import.Dir != "" {
		if im, err = a.newImporter(gallery, func(astroglossary.ImportReport) { srv.RefreshMetrics(ctx) }); err != nil {
			return err
		}
		report, err := im.Run(ctx)
		if err != nil {
			return err
		}
		a.logger.Info("imported posts",
			slog.Int("created", report.Created),
			slog.Int("updated", report.Updated),
			slog.Int("skipped", report.Skipped))
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("listening", slog.String("addr", httpServer.Addr), slog.String("store", a.cfg.Server.Store))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	if im != nil && a.cfg.Import.Watch {
		g.Go(func() error {
			return im.Watch(ctx)
		})
	}

	return g.Wait()
}

// openGallery opens the configured store and loads the seed file, if any.
func (a *app) openGallery(ctx context.Context) (*astroglossary.Gallery, error) {
	types := astroglossary.Types(a.cfg.Server.Types)
	users := a.cfg.Server.Users

	var seed *importer.Seed
	if a.cfg.Server.Seed != "" {
		var err error
		if seed, err = importer.LoadSeed(a.cfg.Server.Seed); err != nil {
			return nil, err
		}
		if len(seed.Types) > 0 {
			types = seed.Types
		}
		users = append(users, seed.Users...)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	gallery, err := astroglossary.NewGallery(ctx, astroglossary.Options{
		Store:  store,
		Types:  types,
		Users:  users,
		Logger: a.logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if seed != nil {
		report, err := gallery.Import(ctx, seed.GalleryPosts()...)
		if err != nil {
			_ = gallery.Close()
			return nil, fmt.Errorf("failed to load seed posts: %w", err)
		}
		a.logger.Info("loaded seed posts", slog.Int("created", report.Created), slog.Int("updated", report.Updated))
	}

	return gallery, nil
}

func (a *app) openStore(ctx context.Context) (astroglossary.PostStore, error) {
	switch a.cfg.Server.Store {
	case config.StoreBBolt:
		return bboltstore.New(a.cfg.Server.DataDir, a.logger), nil
	case config.StoreSQLite:
		if err := os.MkdirAll(a.cfg.Server.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := sqlitestore.OpenDB(filepath.Join(a.cfg.Server.DataDir, "astroglossary.sqlite"))
		if err != nil {
			return nil, err
		}
		return sqlitestore.NewSQLiteStore(db, "posts"), nil
	case config.StorePostgres:
		pool, err := pgstore.Connect(ctx, a.cfg.Server.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pgstore.New(pool, "posts"), nil
	default:
		return astroglossary.NewMemoryPostStore(), nil
	}
}

func (a *app) newImporter(sink importer.Sink, onImport func(astroglossary.ImportReport)) (*importer.Importer, error) {
	return importer.New(importer.Options{
		Sink:     sink,
		Dir:      a.cfg.Import.Dir,
		Pattern:  a.cfg.Import.Pattern,
		Logger:   a.logger,
		OnImport: onImport,
	})
}
