package wallet

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

const BALANCE_KEY_PREFIX = "roulette:balance:"

// ErrInsufficient means the user's held balance cannot cover the debit.
// Every other error from HoldOrDebit/Credit is a transient wallet failure.
var ErrInsufficient = errors.New("insufficient balance")

// Service is the virtual-currency wallet the game core consumes. The core
// never stores balances itself; it only emits hold/debit and credit
// instructions.
type Service interface {
	HoldOrDebit(ctx context.Context, userID string, amount float64) error
	Credit(ctx context.Context, userID string, amount float64) error
	Balance(ctx context.Context, userID string) (float64, error)
}

// Redis-backed wallet. Balances live under one key per user; debits use
// IncrByFloat with a compensating rollback if the balance went negative
// between the read and the decrement.
type RedisWallet struct {
	client *redis.Client
}

func NewRedisWallet(client *redis.Client) *RedisWallet {
	return &RedisWallet{client: client}
}

func (w *RedisWallet) HoldOrDebit(ctx context.Context, userID string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("invalid debit amount %.2f", amount)
	}

	key := BALANCE_KEY_PREFIX + userID
	balance, err := w.client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return ErrInsufficient
	}
	if err != nil {
		return fmt.Errorf("wallet read: %w", err)
	}
	if balance < amount {
		return ErrInsufficient
	}

	newBalance, err := w.client.IncrByFloat(ctx, key, -amount).Result()
	if err != nil {
		return fmt.Errorf("wallet debit: %w", err)
	}
	if newBalance < 0 {
		// Lost a race against a concurrent debit; undo.
		w.client.IncrByFloat(ctx, key, amount)
		return ErrInsufficient
	}
	return nil
}

func (w *RedisWallet) Credit(ctx context.Context, userID string, amount float64) error {
	if amount <= 0 {
		return nil
	}
	key := BALANCE_KEY_PREFIX + userID
	if err := w.client.IncrByFloat(ctx, key, amount).Err(); err != nil {
		return fmt.Errorf("wallet credit: %w", err)
	}
	return nil
}

func (w *RedisWallet) Balance(ctx context.Context, userID string) (float64, error) {
	balance, err := w.client.Get(ctx, BALANCE_KEY_PREFIX+userID).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wallet read: %w", err)
	}
	return balance, nil
}

// SetBalance overwrites a user's balance. Admin/testing hook.
func (w *RedisWallet) SetBalance(ctx context.Context, userID string, amount float64) error {
	if err := w.client.Set(ctx, BALANCE_KEY_PREFIX+userID, amount, 0).Err(); err != nil {
		return fmt.Errorf("wallet set: %w", err)
	}
	log.Printf("[WALLET] Balance set for %s: %.2f", userID, amount)
	return nil
}
