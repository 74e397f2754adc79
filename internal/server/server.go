package server

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"roulette/internal/cache"
	"roulette/internal/database"
	"roulette/internal/game"
	"roulette/internal/wallet"
)

type FiberServer struct {
	*fiber.App

	db      database.Service
	cache   cache.Service
	wallet  *wallet.RedisWallet
	manager *game.Manager
	hub     *game.Hub
}

func New() *FiberServer {
	db := database.New()

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required for the wallet")
	}

	walletSvc := wallet.NewRedisWallet(redisService.GetClient())
	archive := database.NewArchiveStore(db)

	hub := game.NewHub()
	manager := game.NewManager(game.ConfigFromEnv(), hub, walletSvc, archive)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "roulette",
			AppName:       "roulette",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:      db,
		cache:   redisService,
		wallet:  walletSvc,
		manager: manager,
		hub:     hub,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	manager.Start()
	log.Println("[SERVER] Round manager started")

	return server
}

// Shutdown stops the round manager and closes connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.manager != nil {
		s.manager.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}
