package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fulfillment-service/app"
	commonmw "fulfillment-service/common/middleware"
	"fulfillment-service/controllers"
	"fulfillment-service/routes"
	"fulfillment-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	a, err := app.Build(context.Background())
	if err != nil {
		panic("failed to start fulfillment service: " + err.Error())
	}
	defer a.Close()
	logger := a.Logger
	cfg := a.Config

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	rl := commonmw.NewRateLimiter(rate.Limit(cfg.WebhookRateLimit), cfg.WebhookBurst, 10*time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(commonmw.RequestID())
	r.Use(commonmw.MetricsMiddleware(a.Metrics, app.ServiceName))
	r.Use(commonmw.RequestLogger(logger))
	r.Use(commonmw.Timeout(30 * time.Second))

	webhookController := controllers.NewWebhookController(a.Verifier, a.Orchestrator, a.Metrics, logger)
	adminController := controllers.NewAdminController(a.Prints, a.Scheduler, logger)
	routes.RegisterRoutes(r, webhookController, adminController, rl)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		rl.Sweep(bgCtx)
	}()

	if a.LeadQueue != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.LeadQueue.StartPolling(bgCtx, a.Leads.Handle)
		}()
	} else {
		logger.Info("LEAD_QUEUE_URL not set, lead consumer disabled")
	}

	if cfg.SchedulerInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runScheduler(bgCtx, a.Scheduler, cfg.SchedulerInterval, logger)
		}()
	} else {
		logger.Info("SCHEDULER_INTERVAL is 0, periodic drip runs disabled")
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("Fulfillment service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Initiating graceful shutdown...")
	bgCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	wg.Wait()

	logger.Info("Fulfillment service stopped gracefully")
}

// runScheduler runs every sequence on each tick. A run already held by another
// instance is skipped quietly.
func runScheduler(ctx context.Context, scheduler *services.SchedulerService, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := scheduler.RunAll(ctx); err != nil {
				if errors.Is(err, services.ErrRunInProgress) {
					logger.Debug("scheduler run skipped, another instance holds the lock")
					continue
				}
				logger.Error("scheduler run failed", zap.Error(err))
			}
		}
	}
}
