package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartograph-io/cartograph/internal/api"
	"github.com/cartograph-io/cartograph/internal/ingest"
	"github.com/cartograph-io/cartograph/internal/orchestration"
	"github.com/cartograph-io/cartograph/internal/runtime"
	"github.com/cartograph-io/cartograph/internal/scheduler"
	"github.com/cartograph-io/cartograph/internal/snapshot"
	"github.com/cartograph-io/cartograph/internal/storage"
	"github.com/cartograph-io/cartograph/models"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the control plane",
	Long:  `Start the HTTP API server, the component state machines and the background scheduler`,
	RunE:  runServer,
}

// storeAdapter bridges the context-free service interfaces onto the storage
// layer with a bounded per-call timeout.
type storeAdapter struct {
	store *storage.Storage
}

func (a storeAdapter) GetComponent(id string) (*models.Component, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.store.GetComponent(ctx, id)
}

func (a storeAdapter) ListComponents(mapID string) ([]*models.Component, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.store.ListComponents(ctx, mapID)
}

func (a storeAdapter) ListMapIDs() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.store.ListMapIDs(ctx)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	store, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry := runtime.NewRegistry(runtime.Config{
		StalenessWindow:    cfg.Runtime.StalenessWindow,
		HistoryCap:         cfg.Runtime.HistoryCap,
		DefaultOverrideTTL: cfg.Runtime.OverrideTTL,
	}, store)

	components := storeAdapter{store: store}
	agents := orchestration.NewAgentRegistry()
	transport := orchestration.NewPollTransport(cfg.Commands.AgentQueueSize)
	orchestrator := orchestration.New(components, registry, agents, transport, store, orchestration.Config{
		DefaultTimeout:     cfg.Commands.DefaultTimeout,
		IdempotencyWindow:  cfg.Commands.IdempotencyWindow,
		CompletedRetention: cfg.Commands.CompletedRetention,
	})
	feed := ingest.NewFeed(registry, orchestrator, agents)

	if err := warmStart(components, registry, feed); err != nil {
		return fmt.Errorf("failed to restore components: %w", err)
	}
	snapshots := snapshot.New(components, registry, store, snapshot.Config{
		Retention: cfg.Snapshots.Retention,
	})

	sched := scheduler.New(feed, registry, snapshots, components, scheduler.Config{
		SweepInterval:    cfg.Runtime.SweepInterval,
		StalenessWindow:  cfg.Runtime.StalenessWindow,
		SnapshotInterval: cfg.Snapshots.Interval,
	})
	sched.Start()

	server := api.New(api.Deps{
		Config:       cfg,
		Storage:      store,
		Registry:     registry,
		Orchestrator: orchestrator,
		Agents:       agents,
		Transport:    transport,
		Feed:         feed,
		Snapshots:    snapshots,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			cfg.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		// Drain in dependency order: scheduler first so no new events are
		// injected, then the orchestrator's timers, then the machines and
		// their write-behind queue, then storage.
		sched.Stop()
		orchestrator.Close()
		registry.Close()
		if err := store.Close(); err != nil {
			return fmt.Errorf("storage shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

// warmStart re-registers every stored component so its state machine resumes
// from the last persisted state. Each one is also handed to the feed's
// staleness clock: a restored component whose agent stays silent must still
// fall out of its persisted status once the window elapses.
func warmStart(components storeAdapter, registry *runtime.Registry, feed *ingest.Feed) error {
	mapIDs, err := components.ListMapIDs()
	if err != nil {
		return err
	}
	restored := 0
	for _, mapID := range mapIDs {
		list, err := components.ListComponents(mapID)
		if err != nil {
			return err
		}
		for _, component := range list {
			if _, err := registry.Register(component); err != nil {
				return err
			}
			feed.Track(component.ID)
			restored++
		}
	}
	if restored > 0 {
		log.Printf("Restored %d components across %d maps", restored, len(mapIDs))
	}
	return nil
}
