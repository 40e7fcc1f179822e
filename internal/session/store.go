// Package session records live WebSocket sessions in Redis so operators can
// see which server instance holds a connection and how much it analyzed.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis. Every
	// recorded analysis refreshes it.
	SessionTTL = 1 * time.Hour
)

// Session represents a connection's state stored in Redis.
type Session struct {
	ID         string `redis:"id"`
	Server     string `redis:"server"`      // which server instance holds the connection
	RemoteIP   string `redis:"remote_ip"`   // client IP
	Analyses   int64  `redis:"analyses"`    // analyze messages answered
	Flagged    int64  `redis:"flagged"`     // analyses that produced at least one flag
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session state in Redis.
type Store struct {
	client     redis.Cmdable
	serverName string // identifier for this server instance
	now        func() time.Time
}

// NewStore creates a session store on an existing Redis client.
func NewStore(client redis.Cmdable, serverName string) *Store {
	return &Store{client: client, serverName: serverName, now: time.Now}
}

// Create stores a new session with a 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID, remoteIP string) error {
	key := SessionPrefix + sessionID
	now := s.now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"id", sessionID,
		"server", s.serverName,
		"remote_ip", remoteIP,
		"analyses", 0,
		"flagged", 0,
		"created_at", now,
		"last_active", now,
	)
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: create %s: %w", sessionID, err)
	}
	return nil
}

// RecordAnalysis bumps the session's counters and refreshes its TTL.
func (s *Store) RecordAnalysis(ctx context.Context, sessionID string, flagged bool) error {
	key := SessionPrefix + sessionID

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, "analyses", 1)
	if flagged {
		pipe.HIncrBy(ctx, key, "flagged", 1)
	}
	pipe.HSet(ctx, key, "last_active", s.now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: record analysis %s: %w", sessionID, err)
	}
	return nil
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	if err := s.client.HGetAll(ctx, key).Scan(&session); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, SessionPrefix+sessionID).Err()
}
