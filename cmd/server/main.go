package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foliotrack/valuation-service/internal/api"
	"github.com/foliotrack/valuation-service/internal/cache"
	"github.com/foliotrack/valuation-service/internal/config"
	"github.com/foliotrack/valuation-service/internal/database"
	appkafka "github.com/foliotrack/valuation-service/internal/kafka"
	"github.com/foliotrack/valuation-service/internal/lock"
	"github.com/foliotrack/valuation-service/internal/rebuild"
	"github.com/foliotrack/valuation-service/internal/valuation"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()

	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ttlCache := cache.New(cfg.Cache.DefaultTTL, cfg.Cache.SweepInterval)
	ttlCache.StartSweep()
	defer ttlCache.Stop()

	producer := appkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
	defer producer.Close()

	prices := database.NewCachedPriceProvider(db, ttlCache, 0)
	builder := valuation.NewSeriesBuilder(prices, valuation.WeekdayCalendar{})
	locker := lock.New(redisClient, "")

	coordinator := rebuild.New(db, db, locker, builder, producer,
		cfg.Rebuild.LeaseTimeout, cfg.Rebuild.AcquireWait)
	defer coordinator.Stop()

	consumer := appkafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TransactionsTopic,
		cfg.Kafka.GroupID, db, coordinator, cfg.Rebuild.Benchmarks)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Printf("Kafka consumer stopped: %v", err)
		}
	}()

	if days := cfg.Database.PriceRetentionDays; days > 0 {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					cutoff := time.Now().AddDate(0, 0, -days)
					n, err := db.DeletePriceDataOlderThan(cutoff)
					if err != nil {
						log.Printf("Price retention sweep failed: %v", err)
					} else if n > 0 {
						log.Printf("Pruned %d price rows older than %s", n, cutoff.Format("2006-01-02"))
					}
				}
			}
		}()
	}

	handler := api.NewHandler(db, coordinator, ttlCache)
	server := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.SetupRoutes(handler),
	}

	go func() {
		log.Printf("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
}
