// Package supervisor owns the restartable services of the server.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration. Zero values take the
// suture defaults.
type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func (c *TreeConfig) defaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.FailureDecay == 0 {
		c.FailureDecay = 30
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = 15 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Tree is split in layers so a crashing listener never restarts the
// decoder pool and vice versa:
//   - storage: SQLite dumps
//   - pipeline: ingestion consumers
//   - edge: device listeners and the metrics endpoint
type Tree struct {
	root     *suture.Supervisor
	storage  *suture.Supervisor
	pipeline *suture.Supervisor
	edge     *suture.Supervisor
	config   TreeConfig
}

// New builds the tree. Supervisor events are logged through logger.
func New(logger *slog.Logger, config TreeConfig) *Tree {
	config.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	hook := (&sutureslog.Handler{Logger: logger.With("component", "supervisor")}).MustHook()
	spec := func(withHook bool) suture.Spec {
		s := suture.Spec{
			FailureThreshold: config.FailureThreshold,
			FailureDecay:     config.FailureDecay,
			FailureBackoff:   config.FailureBackoff,
			Timeout:          config.ShutdownTimeout,
		}
		if withHook {
			s.EventHook = hook
		}
		return s
	}

	t := &Tree{
		root:     suture.New("cotrelay", spec(true)),
		storage:  suture.New("storage", spec(false)),
		pipeline: suture.New("pipeline", spec(false)),
		edge:     suture.New("edge", spec(false)),
		config:   config,
	}
	t.root.Add(t.storage)
	t.root.Add(t.pipeline)
	t.root.Add(t.edge)
	return t
}

func (t *Tree) AddStorage(svc suture.Service) suture.ServiceToken {
	return t.storage.Add(svc)
}

func (t *Tree) AddPipeline(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

func (t *Tree) AddEdge(svc suture.Service) suture.ServiceToken {
	return t.edge.Add(svc)
}

// Serve blocks until ctx is cancelled and every service has stopped or
// the shutdown timeout passed.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in its own goroutine.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that outlived the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
