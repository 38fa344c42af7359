package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

// usersKey is the Redis hash holding username -> bcrypt hash.
const usersKey = "chatwire:users"

// opTimeout bounds every Redis round trip.
const opTimeout = 2 * time.Second

// RedisStore keeps credentials in a Redis hash, for deployments where
// several machines share one user base. It satisfies the same Store
// contract as FileStore.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Authenticate checks the stored bcrypt hash for username.
func (rs *RedisStore) Authenticate(username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, ErrEmptyCredentials
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	hash, err := rs.client.HGet(ctx, usersKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("auth: redis lookup: %w", err)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// Register adds a new user. HSetNX makes the existence check and the insert
// one atomic step, so two concurrent registrations cannot both win.
func (rs *RedisStore) Register(username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, ErrEmptyCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("auth: hash password: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	created, err := rs.client.HSetNX(ctx, usersKey, username, string(hash)).Result()
	if err != nil {
		return false, fmt.Errorf("auth: redis register: %w", err)
	}
	return created, nil
}
