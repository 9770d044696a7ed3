package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/agentsync/pkg/api"
	"github.com/fulmenhq/agentsync/pkg/store"
	"github.com/fulmenhq/agentsync/pkg/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon: watch every active target and the store, reconcile on change",
	Long: `serve opens the metadata store and the store's git repository, starts a
debounced filesystem watcher on the store side and on every active
target's local path, and reconciles a target whenever either side
changes. A periodic full pass catches anything a watcher missed (a
laptop asleep through a remote edit, a watch that silently dropped an
event). The consumer API is also exposed over localhost HTTP for a UI
or CLI front-end to drive.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "127.0.0.1:7777", "Address the consumer API listens on")
	serveCmd.Flags().Duration("full-scan-interval", 5*time.Minute, "How often to run a full reconciliation pass across every active target, as a backstop for missed watch events")
}

func runServe(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close() }()

	listen, _ := cmd.Flags().GetString("listen")
	fullScanInterval, _ := cmd.Flags().GetDuration("full-scan-interval")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := zapLogger("serve")

	targets, err := env.meta.ListTargets()
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}

	watchers, watchEvents, err := startWatchers(env, targets)
	if err != nil {
		return err
	}
	defer func() {
		for _, w := range watchers {
			_ = w.Close()
		}
	}()

	httpServer := &http.Server{Addr: listen, Handler: api.NewServer(env.facade)}
	go func() {
		log.Info("consumer API listening", zap.String("addr", listen))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("consumer API server stopped", zap.Error(err))
		}
	}()

	if err := env.eng.ReconcileAll(ctx, targets); err != nil {
		log.Warn("initial reconciliation encountered errors", zap.Error(err))
	}

	ticker := time.NewTicker(fullScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpServer.Shutdown(shutdownCtx)
			cancel()
			return nil

		case ev := <-watchEvents:
			reconcileOne(ctx, env, ev.TargetID, log)

		case <-ticker.C:
			fresh, err := env.meta.ListTargets()
			if err != nil {
				log.Error("list targets for full scan", zap.Error(err))
				continue
			}
			if err := env.eng.ReconcileAll(ctx, fresh); err != nil {
				log.Warn("full reconciliation encountered errors", zap.Error(err))
			}
		}
	}
}

// startWatchers starts one store-side and one target-side watcher per
// active target, fanning their debounced events into a single channel the
// serve loop drains. The store side and every target side share one
// Suppressor (via env.eng), so a façade- or engine-initiated write on
// either side is suppressed on both.
func startWatchers(env *environment, targets []store.Target) ([]*watcher.Watcher, <-chan watcher.Event, error) {
	out := make(chan watcher.Event, 256)
	var watchers []*watcher.Watcher

	for _, t := range targets {
		if t.Status != store.TargetStatusActive {
			continue
		}

		storeSubtree := filepath.Join(env.storeRoot, t.StorePath)
		storeWatcher, err := watcher.New(t.ID, watcher.SideStore, storeSubtree, env.suppressor, env.defaults.WatchDebounce)
		if err != nil {
			closeAll(watchers)
			return nil, nil, fmt.Errorf("watch store side of %s: %w", t.DisplayName, err)
		}
		watchers = append(watchers, storeWatcher)
		fanIn(storeWatcher, out)

		targetWatcher, err := watcher.New(t.ID, watcher.SideTarget, t.LocalPath, env.suppressor, env.defaults.WatchDebounce)
		if err != nil {
			closeAll(watchers)
			return nil, nil, fmt.Errorf("watch target side of %s: %w", t.DisplayName, err)
		}
		watchers = append(watchers, targetWatcher)
		fanIn(targetWatcher, out)
	}

	return watchers, out, nil
}

func fanIn(w *watcher.Watcher, out chan<- watcher.Event) {
	events, errs := w.Run(context.Background())
	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				out <- ev
			case err, ok := <-errs:
				if !ok {
					continue
				}
				zapLogger("serve").Warn("watcher error", zap.String("target_id", w.TargetID), zap.Error(err))
			}
		}
	}()
}

func closeAll(watchers []*watcher.Watcher) {
	for _, w := range watchers {
		_ = w.Close()
	}
}

func reconcileOne(ctx context.Context, env *environment, targetID string, log *zap.Logger) {
	t, err := env.meta.GetTarget(targetID)
	if err != nil {
		log.Warn("reconcile skipped: target no longer exists", zap.String("target_id", targetID))
		return
	}
	if _, err := env.eng.ReconcileTarget(ctx, t); err != nil {
		log.Error("reconcile target failed", zap.String("target_id", targetID), zap.Error(err))
	}
}
