// Package cache keeps open tickets in Redis so plate lookups skip the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/parking-session-engine/internal/model"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// Client is the subset of *redis.Client used by OpenTicketStore.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// OpenTicketStore caches open tickets keyed by account and plate.
type OpenTicketStore struct {
	client Client
	ttl    time.Duration
}

// NewRedisClient returns a go-redis client after checking the connection with PING.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// NewOpenTicketStore returns a Redis-backed store.
func NewOpenTicketStore(client *redis.Client, ttl time.Duration) *OpenTicketStore {
	return &OpenTicketStore{client: client, ttl: ttl}
}

// NewOpenTicketStoreWithClient returns a store over a custom client.
// This is primarily used for testing.
func NewOpenTicketStoreWithClient(client Client, ttl time.Duration) *OpenTicketStore {
	return &OpenTicketStore{client: client, ttl: ttl}
}

func key(userID, plate string) string {
	return fmt.Sprintf("parking:open:%s:%s", userID, plate)
}

// Save caches an open ticket.
func (s *OpenTicketStore) Save(ctx context.Context, ticket *model.Ticket) error {
	data, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	return s.client.Set(ctx, key(ticket.UserID, ticket.Plate), data, s.ttl).Err()
}

// Get returns the cached open ticket, or nil, nil on a miss.
func (s *OpenTicketStore) Get(ctx context.Context, userID, plate string) (*model.Ticket, error) {
	raw, err := s.client.Get(ctx, key(userID, plate)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var ticket model.Ticket
	if err := json.Unmarshal(raw, &ticket); err != nil {
		return nil, fmt.Errorf("unmarshal ticket: %w", err)
	}
	return &ticket, nil
}

// Delete evicts a ticket once it is closed.
func (s *OpenTicketStore) Delete(ctx context.Context, userID, plate string) error {
	return s.client.Del(ctx, key(userID, plate)).Err()
}

// Ping checks that Redis is reachable.
func (s *OpenTicketStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
