package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/novacore/roomsync/internal/broadcast"
	"github.com/novacore/roomsync/internal/config"
	"github.com/novacore/roomsync/internal/data"
	"github.com/novacore/roomsync/internal/persist"
	"github.com/novacore/roomsync/internal/region"
	"github.com/novacore/roomsync/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config
	cfgPath := "config/roomsync.toml"
	if p := os.Getenv("ROOMSYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting",
		zap.String("server", cfg.Server.Name),
		zap.Int("id", cfg.Server.ID))

	// 3. Connect to PostgreSQL and run migrations
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := persist.NewDB(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	if err := persist.RunMigrations(ctx, db.Pool); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	snapshotRepo := persist.NewSnapshotRepo(db)

	// 4. Event broker
	var broadcaster *broadcast.NatsBroadcaster
	if cfg.Nats.Embedded {
		broadcaster, err = broadcast.StartEmbedded(cfg.Nats.Host, cfg.Nats.Port, log)
	} else {
		broadcaster, err = broadcast.Connect(cfg.Nats.URL, log)
	}
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer broadcaster.Close()

	// 5. State store and services
	if cfg.World.RegionSize < cfg.World.DefaultAOIRadius {
		log.Warn("region_size below default_aoi_radius; neighborhood queries may miss in-range candidates",
			zap.Float64("region_size", cfg.World.RegionSize),
			zap.Float64("default_aoi_radius", cfg.World.DefaultAOIRadius))
	}
	grid := region.NewGrid(cfg.World.RegionSize)
	store := world.NewStore(grid, world.Options{
		StateTTL:     cfg.World.StateTTL,
		IndexTTL:     cfg.World.IndexTTL,
		EventTTL:     cfg.World.EventTTL,
		MaxClockSkew: cfg.World.MaxClockSkew,
	}, log)
	events := world.NewEventLog(store, broadcaster, log)
	snapshots := world.NewSnapshotManager(store, snapshotRepo, log)

	// 6. Initialize rooms
	rooms, err := data.LoadRoomTable(cfg.Server.RoomsFile)
	if err != nil {
		return fmt.Errorf("load rooms: %w", err)
	}
	var initErr error
	rooms.All(func(def *data.RoomDef) {
		if initErr != nil {
			return
		}
		if _, err := store.InitializeState(def.ID, def.Width, def.Height); err != nil {
			initErr = fmt.Errorf("initialize room %s: %w", def.ID, err)
			return
		}
		if _, err := events.ProcessGameEvent(def.ID, world.GameEvent{Type: "room_online"}); err != nil {
			log.Warn("boot event", zap.String("room", def.ID), zap.Error(err))
		}
	})
	if initErr != nil {
		return initErr
	}
	log.Info("rooms initialized", zap.Int("count", rooms.Count()))

	// 7. Background sweep
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	collector := world.NewCollector(store, cfg.World.SweepInterval, cfg.World.SweepOlderThan, log)
	go collector.Run(runCtx)

	// 8. Tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.World.TickRate)
	defer ticker.Stop()
	log.Info("tick loop started", zap.Duration("tick", cfg.World.TickRate))

	weatherEvery := int(cfg.World.WeatherInterval / cfg.World.TickRate)
	snapshotEvery := int(cfg.World.SnapshotInterval / cfg.World.TickRate)
	weatherCounter := 0
	snapshotCounter := 0

	for {
		select {
		case <-ticker.C:
			for _, roomID := range store.Rooms() {
				store.AdvanceClock(roomID)
			}
			weatherCounter++
			if weatherEvery > 0 && weatherCounter >= weatherEvery {
				weatherCounter = 0
				for _, roomID := range store.Rooms() {
					store.RandomizeWeather(roomID)
				}
			}
			snapshotCounter++
			if snapshotEvery > 0 && snapshotCounter >= snapshotEvery {
				snapshotCounter = 0
				snapshotAllRooms(runCtx, store, snapshots, snapshotRepo, cfg.World.SnapshotsKept, log)
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
			snapshotAllRooms(runCtx, store, snapshots, snapshotRepo, cfg.World.SnapshotsKept, log)
			log.Info("stopped")
			return nil
		}
	}
}

// snapshotAllRooms captures every room and prunes old blobs. Failures are
// logged per room and never stop the loop; snapshot state is best-effort.
func snapshotAllRooms(ctx context.Context, store *world.Store, snapshots *world.SnapshotManager, repo *persist.SnapshotRepo, keep int, log *zap.Logger) {
	for _, roomID := range store.Rooms() {
		snapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		id, err := snapshots.SnapshotState(snapCtx, roomID)
		if err != nil {
			log.Warn("snapshot failed", zap.String("room", roomID), zap.Error(err))
			cancel()
			continue
		}
		if keep > 0 {
			if err := repo.Prune(snapCtx, roomID, keep); err != nil {
				log.Warn("snapshot prune failed", zap.String("room", roomID), zap.Error(err))
			}
		}
		cancel()
		log.Debug("snapshot taken", zap.String("room", roomID), zap.String("snapshot", id))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
