package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fadectl/internal/api"
	"github.com/dokzlo13/fadectl/internal/config"
	"github.com/dokzlo13/fadectl/internal/db"
	"github.com/dokzlo13/fadectl/internal/eventbus"
	"github.com/dokzlo13/fadectl/internal/fade"
	"github.com/dokzlo13/fadectl/internal/hooks"
	"github.com/dokzlo13/fadectl/internal/lcc"
	"github.com/dokzlo13/fadectl/internal/ledger"
	"github.com/dokzlo13/fadectl/internal/scene"
)

// Services is a container for all application services. It owns the
// initialization order: storage first, then transport, then the controller
// and everything that observes it.
type Services struct {
	cfg *config.Config

	DB     *db.DB
	Ledger *ledger.Ledger
	Scenes *scene.Store

	Bus       *eventbus.Bus
	Transport *lcc.Transport
	Fade      *fade.Controller

	Hooks *hooks.Runner
	API   *api.Server
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Scenes = scene.NewStore(database.DB)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)

	baseEventID := lcc.DefaultBaseEventID
	if cfg.MQTT.BaseEventID != "" {
		baseEventID, err = lcc.ParseEventID(cfg.MQTT.BaseEventID)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	s.Transport, err = lcc.Connect(lcc.Config{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		Topic:          cfg.MQTT.Topic,
		BaseEventID:    baseEventID,
		ConnectTimeout: cfg.MQTT.ConnectTimeout.Duration(),
		FrameRate:      cfg.MQTT.FrameRate,
		FrameBurst:     cfg.MQTT.FrameBurst,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Fade = fade.New(s.Transport,
		fade.WithMinTxInterval(cfg.Fade.MinTxInterval.Duration()),
		fade.WithNotifier(s.publishFadeEvent),
	)

	if cfg.Hooks.Script != "" {
		s.Hooks = hooks.NewRunner(s.Fade, s.Scenes)
	}

	if cfg.API.Enabled {
		s.API = api.NewServer(cfg.API.Host, cfg.API.Port, s.Fade, s.Scenes, s.Bus)
	}

	return s, nil
}

// Start starts all background services.
func (s *Services) Start(ctx context.Context) error {
	if s.Hooks != nil {
		if err := s.Hooks.LoadScript(s.cfg.Hooks.Script); err != nil {
			return err
		}
		s.Hooks.RegisterHandlers(ctx, s.Bus)
		go s.Hooks.Run(ctx)
	}

	if s.cfg.Ledger.Enabled {
		s.registerLedgerRecorder()
		go s.ledgerCleanupLoop(ctx)
	}

	go s.tickLoop(ctx)

	if s.API != nil {
		go func() {
			if err := s.API.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				log.Error().Err(err).Msg("API server error")
			}
		}()
	}

	if s.cfg.Scenes.AutoApplyFirst {
		s.applyBootScene()
	}

	return nil
}

// tickLoop drives the fade controller at the configured cadence.
func (s *Services) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Fade.TickInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Fade.Tick(); err != nil {
				log.Debug().Err(err).Msg("Fade tick error")
			}
		}
	}
}

// applyBootScene fades to the first catalog scene on startup.
func (s *Services) applyBootScene() {
	sc, err := s.Scenes.First()
	if err != nil {
		if !errors.Is(err, scene.ErrNotFound) {
			log.Error().Err(err).Msg("Failed to load boot scene")
		}
		return
	}

	duration := sc.FadeTime
	if d := s.cfg.Scenes.AutoApplyDuration.Duration(); d > 0 {
		duration = d
	}

	if err := s.Fade.Start(&fade.Params{Target: sc.State, Duration: duration}); err != nil {
		log.Error().Err(err).Str("scene", sc.Name).Msg("Failed to apply boot scene")
		return
	}

	log.Info().Str("scene", sc.Name).Dur("duration", duration).Msg("Applying boot scene")
	s.Bus.Publish(eventbus.Event{
		Type: eventbus.TypeSceneApplied,
		Data: map[string]any{
			"scene":       sc.Name,
			"target":      sc.State,
			"duration_ms": duration.Milliseconds(),
			"source":      "boot",
		},
	})
}

// publishFadeEvent forwards controller lifecycle events to the bus. Runs on
// the caller's goroutine with the controller lock released.
func (s *Services) publishFadeEvent(ev fade.Event) {
	var typ eventbus.Type
	switch ev.Type {
	case fade.EventFadeStarted:
		typ = eventbus.TypeFadeStarted
	case fade.EventFadeCompleted:
		typ = eventbus.TypeFadeCompleted
	case fade.EventFadeAborted:
		typ = eventbus.TypeFadeAborted
	default:
		return
	}

	s.Bus.Publish(eventbus.Event{
		Type: typ,
		Data: map[string]any{
			"session_id":  ev.SessionID.String(),
			"target":      ev.Target,
			"current":     ev.Current,
			"duration_ms": ev.Duration.Milliseconds(),
		},
	})
}

// registerLedgerRecorder persists every bus event to the fade history.
func (s *Services) registerLedgerRecorder() {
	record := func(eventType ledger.EventType) eventbus.Handler {
		return func(ev eventbus.Event) {
			sessionID := uuid.Nil
			if raw, ok := ev.Data["session_id"].(string); ok {
				if id, err := uuid.Parse(raw); err == nil {
					sessionID = id
				}
			}
			source, _ := ev.Data["source"].(string)
			if source == "" {
				source = "controller"
			}
			if err := s.Ledger.Append(eventType, sessionID, source, ev.Data); err != nil {
				log.Error().Err(err).Str("event_type", string(eventType)).Msg("Failed to record ledger entry")
			}
		}
	}

	s.Bus.Subscribe(eventbus.TypeFadeStarted, record(ledger.EventFadeStarted))
	s.Bus.Subscribe(eventbus.TypeFadeCompleted, record(ledger.EventFadeCompleted))
	s.Bus.Subscribe(eventbus.TypeFadeAborted, record(ledger.EventFadeAborted))
	s.Bus.Subscribe(eventbus.TypeSceneApplied, record(ledger.EventSceneApplied))
}

// ledgerCleanupLoop prunes old history entries on the configured interval.
func (s *Services) ledgerCleanupLoop(ctx context.Context) {
	interval := s.cfg.Ledger.CleanupInterval.Duration()
	if interval <= 0 {
		return
	}
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Debug().Int64("deleted", deleted).Msg("Pruned ledger entries")
			}
		}
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	s.Bus.Close(shutdownCtx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Hooks != nil {
		s.Hooks.Close()
	}
	if s.Transport != nil {
		s.Transport.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
