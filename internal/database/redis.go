package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/securebank/backend/internal/config"
)

// InitRedis connects to redis for session state. Returns nil when redis
// is unreachable; callers treat a nil client as "blacklisting disabled".
func InitRedis(cfg config.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Redis not available, token blacklisting disabled: %v", err)
		return nil
	}

	log.Println("Redis connection established")
	return client
}
