package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toasty/internal/antifreeze"
	"toasty/internal/auth"
	"toasty/internal/chat"
	"toasty/internal/config"
	"toasty/internal/db"
	httpx "toasty/internal/http"
	"toasty/internal/room"

	"go.uber.org/zap"
)

func main() {
	cfg, _ := config.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	gdb, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	if err := db.AutoMigrateAndIndexes(gdb); err != nil {
		log.Fatal("db migrate failed", zap.Error(err))
	}

	chatClient := chat.NewClient(chat.Config{
		Email:    cfg.BotEmail,
		Password: cfg.BotPassword,
		Host:     cfg.BotHost,
		Timeout:  cfg.ChatTimeout,
	}, log.Named("chat"))
	if err := chatClient.Login(context.Background()); err != nil {
		log.Fatal("chat login failed", zap.Error(err))
	}

	store := &room.Store{DB: gdb}
	engine := antifreeze.NewEngine(store, chatClient, cfg.Threshold, cfg.Domain, log.Named("engine"))
	sched := antifreeze.NewScheduler(engine, log.Named("scheduler"))
	lifecycle := &antifreeze.Lifecycle{Store: store, Scheduler: sched, Log: log.Named("lifecycle")}

	if err := lifecycle.Start(context.Background()); err != nil {
		log.Fatal("antifreeze start failed", zap.Error(err))
	}

	jwtSvc := auth.NewJWT(cfg.JWTSecret)
	r := httpx.NewRouter(cfg, httpx.Deps{
		DB:     gdb,
		JWT:    jwtSvc,
		Store:  store,
		Engine: engine,
		Sched:  sched,
		Chat:   chatClient,
		Log:    log.Named("http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// graceful shutdown
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	lifecycle.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
