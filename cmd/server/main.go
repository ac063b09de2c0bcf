package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partsdesk/checkout/internal/backend"
	"partsdesk/checkout/internal/cache"
	"partsdesk/checkout/internal/catalog"
	"partsdesk/checkout/internal/checkout"
	"partsdesk/checkout/internal/config"
	"partsdesk/checkout/internal/httpapi"
	"partsdesk/checkout/internal/publisher"
	"partsdesk/checkout/internal/service"
	"partsdesk/checkout/internal/store"
	"partsdesk/checkout/internal/store/memory"
	pgstore "partsdesk/checkout/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(); err != nil {
			log.Fatalf("postgres migrations failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	catalogCache := cache.CatalogCache(cache.NoopCatalogCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			catalogCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	salePublisher := publisher.SalePublisher(publisher.NoopSalePublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		salePublisher = publisher.NewKafkaSalePublisher(cfg.KafkaSalesTopic, cfg.KafkaBrokers...)
		log.Printf("publisher: kafka topic=%s", cfg.KafkaSalesTopic)
	} else {
		log.Println("publisher: noop")
	}

	client := backend.NewClient(backend.Config{
		BaseURL: cfg.BackendURL,
		Token:   cfg.BackendToken,
		Timeout: cfg.BackendTimeout(),
	})
	cat := catalog.New(client, catalogCache, cfg.CatalogTTL(), cfg.BranchID)
	if snap, err := cat.Snapshot(ctx); err != nil {
		log.Printf("catalog warm-up failed (%v), continuing with cold cache", err)
	} else {
		log.Printf("catalog: %d products, %d customers, %d unpaid invoices", len(snap.Products), len(snap.Customers), len(snap.UnpaidInvoices))
	}

	svc := service.New(repo, client, cat, salePublisher, checkout.Options{
		BranchID:       cfg.BranchID,
		TaxRate:        cfg.TaxRate,
		CountryCode:    cfg.PhoneCountryCode,
		PollInterval:   cfg.MpesaPollInterval(),
		PaymentTimeout: cfg.MpesaTimeout(),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Sale creation waits on the backend; the watch stream hijacks its
		// connection and is not bound by this.
		WriteTimeout: cfg.BackendTimeout() + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("checkout terminal service for branch %s listening on %s", cfg.BranchID, cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	// Abandon pending mobile payments and flush journal hooks before the
	// stores they write to are closed.
	svc.Close()
	if err := salePublisher.Close(); err != nil {
		log.Printf("publisher close error: %v", err)
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL must be set")
	}
	u, err := url.Parse(cfg.BackendURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL")
	}
	if u.Scheme != "https" && !isLoopback(u.Hostname()) {
		return fmt.Errorf("BACKEND_URL must use https outside localhost")
	}
	if cfg.BackendToken == "" {
		return fmt.Errorf("BACKEND_TOKEN must be set")
	}
	if cfg.MpesaPollIntervalSeconds >= cfg.MpesaTimeoutSeconds {
		return fmt.Errorf("MPESA_POLL_INTERVAL_SECONDS must be shorter than MPESA_TIMEOUT_SECONDS")
	}
	return nil
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
