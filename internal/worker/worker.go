// Package worker consumes the ingestion topic: every document is decoded,
// persisted, reflected into presence and then published to its route.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cotrelay/server/internal/decoder"
	"github.com/cotrelay/server/internal/dispatcher"
	"github.com/cotrelay/server/internal/fabric"
	"github.com/cotrelay/server/internal/mission"
	"github.com/cotrelay/server/internal/presence"
	"github.com/cotrelay/server/internal/storage"
	"github.com/cotrelay/server/pkg/core"
)

// KindDocument is the dispatcher kind of an ingested document.
const KindDocument = "document"

// Publisher is the part of the routing fabric the worker publishes to.
type Publisher interface {
	Publish(ctx context.Context, t fabric.Topic, origin string, data []byte) error
	SendControl(ctx context.Context, uid string, c fabric.Control) error
}

// Presence is the part of the presence tracker the worker refreshes.
type Presence interface {
	Refresh(ctx context.Context, e presence.Entry) bool
	ResolveCallsign(callsign string) (string, bool)
}

// Tracks receives position and telemetry samples. Optional.
type Tracks interface {
	WriteTrack(p *core.Point) error
	WriteTelemetry(t *core.DeviceTelemetry) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Decoder   *decoder.Decoder
	Backend   storage.Backend
	Missions  mission.Store
	Presence  Presence
	Publisher Publisher
	Tracks    Tracks
	Logger    *slog.Logger
}

// Manager runs the decode pipeline.
type Manager struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Decoder == nil {
		deps.Decoder = decoder.New(deps.Backend, deps.Logger)
	}
	return &Manager{deps: deps, logger: deps.Logger.With("component", "worker")}
}

// Ingest returns the ingestion topic handler. Documents are keyed by
// origin so one device's documents are processed in arrival order.
func (m *Manager) Ingest(d *dispatcher.Dispatcher) fabric.Handler {
	return func(msg fabric.Message) {
		_, err := d.Dispatch(dispatcher.Event{
			Kind:      KindDocument,
			Key:       msg.Origin,
			Data:      msg.Data,
			Timestamp: time.Now(),
		})
		if err != nil {
			m.logger.Warn("document not queued", "origin", msg.Origin, "error", err)
		}
	}
}

// IngestSource is the ingestion side of the routing fabric.
type IngestSource interface {
	ConsumeIngest(h fabric.Handler) (func() error, error)
}

// IngestService keeps this process in the decoder queue group while it
// runs. It is a suture service.
type IngestService struct {
	Source     IngestSource
	Manager    *Manager
	Dispatcher *dispatcher.Dispatcher
}

func (s *IngestService) Serve(ctx context.Context) error {
	leave, err := s.Source.ConsumeIngest(s.Manager.Ingest(s.Dispatcher))
	if err != nil {
		return fmt.Errorf("join ingestion: %w", err)
	}
	s.Manager.logger.Info("consuming ingestion topic")
	<-ctx.Done()
	if err := leave(); err != nil {
		s.Manager.logger.Warn("leaving ingestion failed", "error", err)
	}
	return ctx.Err()
}

func (s *IngestService) String() string { return "decoder-ingest" }
