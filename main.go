package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wfunc/jackofhearts/broadcast"
	"github.com/wfunc/jackofhearts/config"
	"github.com/wfunc/jackofhearts/logger"
	"github.com/wfunc/jackofhearts/monitor"
	"github.com/wfunc/jackofhearts/persistence"
	"github.com/wfunc/jackofhearts/rpc"
	"github.com/wfunc/jackofhearts/server"
	"github.com/wfunc/jackofhearts/services"
	"github.com/wfunc/jackofhearts/timer"
)

func main() {
	// 配置加载前先用默认日志, 保证启动错误可见
	logger.Init("info", false)

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Log.Fatalf("Failed to load .env: %v", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Re-initialize logger from config
	logger.Init(cfg.Log.Level, cfg.Log.Development)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := broadcast.NewHub()
	mon := monitor.NewMonitor("jackofhearts")

	// Initialize Database
	var store persistence.Store
	switch cfg.Database.Driver {
	case "postgres":
		dsn := cfg.Database.Postgres.DSN()
		db, err := persistence.NewGormPostgreSQL(dsn, cfg.Database.NotifyChannel)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to database: %v", err)
		}
		store = db
		logger.Log.Info("Database connection successful.")

		listener, err := persistence.NewListener(dsn, cfg.Database.NotifyChannel, hub.Notify, hub.Codes)
		if err != nil {
			logger.Log.Fatalf("Failed to listen on %s: %v", cfg.Database.NotifyChannel, err)
		}
		go func() {
			if err := listener.Start(ctx); err != nil {
				logger.Log.Warnf("change listener stopped: %v", err)
			}
		}()
	default:
		store = persistence.NewMemoryStore(nil)
		logger.Log.Info("Using in-memory store.")
	}
	defer store.Close()

	var relay broadcast.Notifier
	if cfg.NATS.URL != "" {
		nc, err := broadcast.ConnectNATS(cfg.NATS.URL, cfg.NATS.Token)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		r := broadcast.NewNATSRelay(nc, cfg.NATS.Subject, hub)
		if err := r.Start(); err != nil {
			logger.Log.Fatalf("Failed to subscribe to %s: %v", cfg.NATS.Subject, err)
		}
		defer r.Close()
		relay = r
		logger.Log.Infof("NATS relay on %s.*", cfg.NATS.Subject)
	}

	var scheduler *timer.Scheduler
	if cfg.Server.DriveDeadlines {
		scheduler = timer.NewScheduler(nil, 100*time.Millisecond)
		go scheduler.Run(ctx)
	}

	games := services.NewGameService(store, hub, services.Config{
		CodeLength:     cfg.Game.CodeLength,
		MinPlayers:     cfg.Game.MinPlayers,
		MaxPlayers:     cfg.Game.MaxPlayers,
		RoundDuration:  cfg.Game.RoundDuration,
		VotingDuration: cfg.Game.VotingDuration,
		AutoResolve:    cfg.Game.AutoResolve,
		Metrics:        mon.Metrics,
		Notifier:       relay,
		Scheduler:      scheduler,
	})

	// 初始化RPC服务器
	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, games)
	if err != nil {
		logger.Log.Fatalf("Failed to create RPC server: %v", err)
	}
	go rpcServer.Start()
	defer rpcServer.Stop()

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg.Server.HTTPAddress, games, server.Options{
		Heartbeat: cfg.Server.Heartbeat,
		RateLimit: cfg.Server.RateLimit,
		Monitor:   mon,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
		errCh <- gameServer.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Log.Errorf("Failed to start server: %v", err)
		}
	case <-ctx.Done():
		logger.Log.Info("Shutting down.")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gameServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warnf("shutdown: %v", err)
	}
}
