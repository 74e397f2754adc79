package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "github.com/joho/godotenv/autoload"

	"roulette/internal/server"
)

func main() {
	srv := server.New()
	srv.RegisterFiberRoutes()

	go func() {
		port, _ := strconv.Atoi(getEnv("PORT", "8080"))
		if err := srv.Listen(fmt.Sprintf(":%d", port)); err != nil {
			log.Fatalf("[SERVER] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := srv.Shutdown(); err != nil {
		log.Printf("[SERVER] Shutdown error: %v", err)
	}
	if err := srv.App.Shutdown(); err != nil {
		log.Printf("[SERVER] Fiber shutdown error: %v", err)
	}
	log.Println("[SERVER] Stopped")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
