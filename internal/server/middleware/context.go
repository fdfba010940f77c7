package middleware

import (
	"context"
	"sync"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"
	"github.com/OFFIS-RIT/tvkpi/pkg/graph"
	"github.com/OFFIS-RIT/tvkpi/pkg/logger"
	"github.com/OFFIS-RIT/tvkpi/pkg/store"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"
)

// Snapshot is the aggregate of the last run and the graph built from it.
type Snapshot struct {
	Aggregate common.AggregatedResult
	Graph     *graph.Graph
}

type App struct {
	Store store.ResultStore

	mu       sync.RWMutex
	snapshot *Snapshot
	gen      uint64
	group    singleflight.Group
}

const snapshotKey = "snapshot"

// NewApp returns an App reading results from s.
func NewApp(s store.ResultStore) *App {
	return &App{Store: s}
}

// Snapshot returns the cached snapshot, loading it from the store on first
// use. Concurrent first calls share one load.
func (a *App) Snapshot(ctx context.Context) (*Snapshot, error) {
	a.mu.RLock()
	snap := a.snapshot
	a.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	return a.load(ctx)
}

// Reload drops the cached snapshot and loads it again. A load started
// before the reload is neither joined nor allowed to replace the result.
func (a *App) Reload(ctx context.Context) (*Snapshot, error) {
	a.mu.Lock()
	a.snapshot = nil
	a.gen++
	a.mu.Unlock()
	a.group.Forget(snapshotKey)
	return a.load(ctx)
}

func (a *App) load(ctx context.Context) (*Snapshot, error) {
	v, err, _ := a.group.Do(snapshotKey, func() (any, error) {
		a.mu.RLock()
		gen := a.gen
		a.mu.RUnlock()

		agg, err := a.Store.LoadAggregate(ctx)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{Aggregate: agg, Graph: graph.Build(agg)}
		a.mu.Lock()
		if a.gen == gen {
			a.snapshot = snap
		}
		a.mu.Unlock()
		stats := snap.Graph.Stats()
		logger.Info("Loaded graph", "nodes", stats.Nodes, "edges", stats.Edges, "relations", agg.Summary.TotalRelations)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
