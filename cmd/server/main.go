package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/treehouse/marketplace-ledger/internal/asset"
	"github.com/treehouse/marketplace-ledger/internal/market"
	"github.com/treehouse/marketplace-ledger/internal/metrics"
	"github.com/treehouse/marketplace-ledger/internal/payment"
	"github.com/treehouse/marketplace-ledger/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()
	devMode := false

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		if err := store.EnsureSchema(context.Background(), pool); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
		devMode = true
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- External collaborators ---
	// In-memory stand-ins for the asset ledger and payment rail. Production
	// deployments substitute adapters to the real chain and payment rail.
	assets := asset.NewLedger()
	royalties := asset.NewRoyaltyRegistry()
	rail := payment.NewMemoryRail()

	// --- WebSocket hub ---
	hub := market.NewEventHub()
	go hub.Run()

	// --- Marketplace service ---
	svc := market.NewService(st, assets, royalties, rail, hub)

	feeBps := int64(market.DefaultPlatformFeeBps)
	if v := os.Getenv("MARKETPLACE_FEE_BPS"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 || parsed > 10000 {
			slog.Error("invalid MARKETPLACE_FEE_BPS", "value", v)
			os.Exit(1)
		}
		feeBps = parsed
	}
	treasury := os.Getenv("TREASURY_ACCOUNT")
	if treasury == "" {
		treasury = "treasury"
	}
	operator := os.Getenv("MARKETPLACE_OPERATOR")
	if operator == "" {
		operator = "marketplace"
	}
	svc.Configure(feeBps, treasury, operator)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"marketplace-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time marketplace events.
		r.Get("/ws", hub.HandleWS)

		// Listings.
		r.Get("/listings", svc.HandleListListings)
		r.Post("/listings", svc.HandleList)
		r.Get("/listings/{listingID}", svc.HandleGetListing)
		r.Put("/listings/{listingID}", svc.HandleUpdate)
		r.Post("/listings/{listingID}/buy", svc.HandleBuy)
		r.Post("/listings/{listingID}/cancel", svc.HandleCancel)

		// Queries.
		r.Get("/users/{owner}/tokens", svc.HandleUserTokens)
		r.Get("/users/{owner}/contracts", svc.HandleTokensOwned)
		r.Get("/amount-listed", svc.HandleAmountListed)
		r.Get("/contracts/{contract}/sales", svc.HandleSalesHistory)

		// Dev-only bootstrap for the in-memory collaborators.
		if devMode {
			r.Post("/dev/mint", devMint(assets, svc))
			r.Post("/dev/fund", devFund(rail))
			r.Post("/dev/royalty", devRoyalty(royalties))
		}
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("marketplace-ledger listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down marketplace-ledger...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("marketplace-ledger stopped")
}

// --- Dev bootstrap handlers (in-memory mode only) ---

func devMint(assets *asset.Ledger, svc *market.Service) http.HandlerFunc {
	type mintRequest struct {
		Contract string `json:"contract"`
		To       string `json:"to"`
		TokenID  uint64 `json:"token_id"`
		Quantity int64  `json:"quantity"`
		Minter   string `json:"minter"`
		Operator string `json:"operator"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req mintRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := asset.ValidContract(req.Contract); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Minter != "" {
			assets.SetMinter(req.Contract, req.Minter)
		}
		if req.Operator != "" {
			assets.AddOperator(req.Contract, req.Operator)
		}
		if err := assets.Mint(req.Contract, req.To, req.TokenID, req.Quantity); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := svc.RegisterMint(r.Context(), req.Contract, req.To); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func devFund(rail *payment.MemoryRail) http.HandlerFunc {
	type fundRequest struct {
		Account string          `json:"account"`
		Amount  decimal.Decimal `json:"amount"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req fundRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		rail.Deposit(req.Account, req.Amount)
		w.WriteHeader(http.StatusNoContent)
	}
}

func devRoyalty(royalties *asset.RoyaltyRegistry) http.HandlerFunc {
	type royaltyRequest struct {
		Contract  string `json:"contract"`
		Recipient string `json:"recipient"`
		Bps       int64  `json:"bps"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req royaltyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		royalties.Register(req.Contract, req.Recipient, req.Bps)
		w.WriteHeader(http.StatusNoContent)
	}
}
