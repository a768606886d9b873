package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the client shared by the realtime relay and the pending-release
// store when replicas run side by side.
type Redis struct {
	Client *redis.Client
}

// NewRedis opens a client and pings it. As with NewDB the client is returned
// even when the ping fails; go-redis redials on the next command.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return &Redis{Client: client}, client.Ping(pingCtx).Err()
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the client's connections.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
