package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

const ticketKeyPrefix = "ticket:"

// RedisStore keeps one key per ticket under the ticket: prefix.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]ticket.Ticket, error) {
	table := map[string]ticket.Ticket{}

	iter := s.client.Scan(ctx, 0, ticketKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load ticket %s: %w", key, err)
		}

		var t ticket.Ticket
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			log.Printf("store: skipping corrupt ticket record %s: %v", key, err)
			continue
		}
		if t.ID == "" {
			t.ID = key[len(ticketKeyPrefix):]
		}
		table[t.ID] = t
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan tickets: %w", err)
	}
	return table, nil
}

func (s *RedisStore) Put(ctx context.Context, t ticket.Ticket) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket %s: %w", t.ID, err)
	}
	if err := s.client.Set(ctx, ticketKeyPrefix+t.ID, raw, 0).Err(); err != nil {
		return fmt.Errorf("save ticket %s: %w", t.ID, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, ticketKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("remove ticket %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
