package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/securebank/backend/internal/config"
	"github.com/securebank/backend/internal/crypto"
	"github.com/securebank/backend/internal/database"
	mW "github.com/securebank/backend/internal/middleware"
	"github.com/securebank/backend/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db := database.InitDatabase(cfg.Database)
	defer db.Close()

	redisClient := database.InitRedis(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	codec, err := crypto.NewCodec(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("Failed to initialize field codec: %v", err)
	}

	ledgerService := services.NewLedgerService(db, codec)
	requestService := services.NewRequestService(db, codec, ledgerService)
	historyService := services.NewHistoryService(db, codec)
	authService := services.NewAuthService(db, redisClient, codec, cfg.JWT)
	bankService := services.NewBankService(db, ledgerService, requestService, historyService)
	bannerService := services.NewBannerService(db)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/banners", bannerService.ActiveBanners)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.Auth(cfg.JWT.SecretKey, redisClient))

			r.Route("/bank", func(r chi.Router) {
				r.Get("/balance", bankService.GetBalance)
				r.Post("/transfer", bankService.Transfer)

				r.Post("/deposit", bankService.CreateDeposit)
				r.Get("/deposits", bankService.ListDeposits)
				r.Get("/deposit/{chequeNumber}/pdf", bankService.DepositChequePDF)

				r.Post("/withdraw", bankService.CreateWithdraw)
				r.Get("/withdrawals", bankService.ListWithdrawals)
				r.Get("/withdraw/{chequeNumber}/pdf", bankService.WithdrawChequePDF)

				r.Get("/transactions/recent", bankService.RecentTransactions)
				r.Get("/transactions/export", bankService.ExportTransactions)
			})

			// Admin endpoints
			r.Route("/admin", func(r chi.Router) {
				r.Use(mW.RequireAdmin(db))

				r.Get("/deposits/pending", bankService.PendingDeposits)
				r.Post("/deposits/{requestID}/status", bankService.UpdateDepositStatus)
				r.Get("/withdrawals/pending", bankService.PendingWithdrawals)
				r.Post("/withdrawals/{requestID}/status", bankService.UpdateWithdrawStatus)

				r.Get("/banners", bannerService.ListBanners)
				r.Post("/banners", bannerService.CreateBanner)
				r.Get("/banners/{bannerID}", bannerService.GetBanner)
				r.Put("/banners/{bannerID}", bannerService.UpdateBanner)
				r.Put("/banners/{bannerID}/toggle", bannerService.ToggleBanner)
				r.Delete("/banners/{bannerID}", bannerService.DeleteBanner)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
