package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/ledger"
	"escrowflow/order"
	"escrowflow/platform"
	"escrowflow/profile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	led := ledger.NewPostgres()
	orderRepo := order.NewRepository(pool)
	disputeRepo := dispute.NewRepository(pool)

	server := &Server{
		orderService:    order.NewService(pool, orderRepo, led),
		orders:          orderRepo,
		disputeService:  dispute.NewService(pool, disputeRepo, led),
		disputes:        disputeRepo,
		profileService:  profile.NewService(profile.NewRepository(pool)),
		platformService: platform.NewService(pool, nil),
		authService:     auth.NewService(auth.NewRepository(pool), cfg.JWTSecret),
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.routes(),
	}

	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Print("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
