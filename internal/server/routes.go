package server

import (
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"roulette/internal/game"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/round", s.getRoundHandler)
	api.Get("/round/bets", s.getRoundBetsHandler)
	api.Get("/round/verify", s.verifyRoundHandler)
	api.Post("/round/bet", s.placeBetHandler)
	api.Get("/user/:userId/balance", s.getUserBalanceHandler)
	api.Post("/user/:userId/balance", s.setUserBalanceHandler)

	s.App.Get("/ws", websocket.New(s.eventStreamHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"cache":    s.cache.Health(),
		"game": fiber.Map{
			"status":      "running",
			"subscribers": s.hub.Count(),
		},
	}
	return c.JSON(health)
}

// getRoundHandler is the poll endpoint: the authoritative snapshot with
// time_remaining computed fresh for this request.
func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	snap := s.manager.Snapshot()
	if snap == nil {
		return c.Status(404).JSON(fiber.Map{
			"error": "No active round",
		})
	}
	return c.JSON(snap)
}

func (s *FiberServer) getRoundBetsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"bets": s.manager.CurrentBets(),
	})
}

// verifyRoundHandler recomputes an archived round's outcome from the
// revealed seed so anyone can check the commitment.
func (s *FiberServer) verifyRoundHandler(c *fiber.Ctx) error {
	seed := c.Query("server_seed")
	roundID := c.Query("round_id")
	commitment := c.Query("commitment")
	number, err := strconv.Atoi(c.Query("number", "-1"))
	if seed == "" || roundID == "" || commitment == "" || err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "server_seed, round_id, commitment and number are required",
		})
	}

	outcome := game.ComputeOutcome(seed, roundID)
	return c.JSON(fiber.Map{
		"valid":   game.VerifyOutcome(seed, roundID, commitment, number),
		"outcome": outcome,
	})
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.UserID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	resp := s.manager.PlaceBet(c.Context(), req)
	if !resp.Success {
		return c.Status(400).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	balance, err := s.wallet.Balance(c.Context(), userID)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read balance",
		})
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

// setUserBalanceHandler seeds a user's balance (testing/admin).
func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "User ID is required",
		})
	}

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := s.wallet.SetBalance(c.Context(), userID, body.Balance); err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to set balance",
		})
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": body.Balance,
	})
}
