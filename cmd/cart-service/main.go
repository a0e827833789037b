package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/delivery"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/events"
	cartHttp "github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/handler/http"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/owner"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "cart-service").Logger()

	log.Info().Msg("Cart service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.App.LogLevel).Msg("Unknown log level, falling back to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	pg, err := db.New(startCtx, cfg.Postgres)
	cancelStart()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	var (
		catalogReader = catalog.NewRepository(pg.SQL)
		checkoutOpts  []checkout.Option
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		cached := catalog.NewCachedReader(catalogReader, redisClient, cfg.Redis.CacheTTL)
		catalogReader = cached
		checkoutOpts = append(checkoutOpts, checkout.WithInvalidator(cached))
		log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.CacheTTL).Msg("Catalog cache enabled")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Order events enabled")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()

	resolver := owner.NewResolver(cfg.Session)

	cartSvc := cart.NewService(cart.NewRepository(pg.Pool), catalog.NewLookup(catalogReader))
	deliverySvc := delivery.NewService(delivery.NewRepository(pg.Pool))
	orderSvc := order.NewService(order.NewRepository(pg.Pool))
	checkoutSvc := checkout.NewService(
		checkout.NewStore(pg.Pool),
		publisher,
		cfg.Checkout.ReferencePrefix,
		cfg.Checkout.ReferenceRetries,
		checkoutOpts...,
	)

	cartHandler := cartHttp.NewCartHandler(cartSvc, deliverySvc, resolver)
	checkoutHandler := cartHttp.NewCheckoutHandler(checkoutSvc)
	orderHandler := cartHttp.NewOrderHandler(orderSvc)
	deliveryHandler := cartHttp.NewDeliveryHandler(deliverySvc)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pg.Pool.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	deliveryHandler.RegisterRoutes(router)

	router.Group(func(r chi.Router) {
		r.Use(resolver.Middleware)
		cartHandler.RegisterRoutes(r)
		checkoutHandler.RegisterRoutes(r)
		orderHandler.RegisterRoutes(r)
	})

	router.Route("/admin", func(r chi.Router) {
		deliveryHandler.RegisterAdminRoutes(r)
		orderHandler.RegisterAdminRoutes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Cart service stopped")
}
