// Package app provides application initialization and dependency wiring.
//
// App is the container that owns every long-lived component: the Genkit
// runtime, the database pool, the knowledge store, the semantic cache, the
// retriever, the coordinator, and the background ingester. Setup builds the
// graph in dependency order; Close tears it down in reverse.
package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abhi-Verma2005/oms-assistant/internal/assistant"
	"github.com/Abhi-Verma2005/oms-assistant/internal/config"
	"github.com/Abhi-Verma2005/oms-assistant/internal/ingest"
	"github.com/Abhi-Verma2005/oms-assistant/internal/knowledge"
	"github.com/Abhi-Verma2005/oms-assistant/internal/retrieval"
	"github.com/Abhi-Verma2005/oms-assistant/internal/semcache"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit      *genkit.Genkit
	DBPool      *pgxpool.Pool
	Knowledge   *knowledge.Store
	Embedder    *knowledge.Embedder
	Retriever   *retrieval.Retriever
	Cache       *semcache.Cache
	Coordinator *assistant.Coordinator
	Ingester    *ingest.Ingester // nil when ingest_enabled is false

	// Lifecycle management
	otelCleanup  func()
	ingestCancel context.CancelFunc
	ingestDone   sync.WaitGroup
}

// Close gracefully shuts down all resources in reverse dependency order.
// Safe to call on a partially initialized App.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	// Stop accepting ingest work and drain the worker.
	if a.ingestCancel != nil {
		a.ingestCancel()
		a.ingestDone.Wait()
	}

	// Let in-flight cache hit recordings land before the pool goes away.
	if a.Coordinator != nil {
		a.Coordinator.Wait()
	}

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Debug("database pool closed")
	}

	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
