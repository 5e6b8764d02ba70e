// Package redisearch is the reference engine adapter, speaking the RediSearch
// module protocol (FT.*) via rueidis. It is swap-capable: the live index
// handle is an FT alias repointed atomically during rebuilds.
package redisearch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/engine"
)

// Compile-time checks.
var (
	_ engine.Adapter = (*Store)(nil)
	_ engine.Swapper = (*Store)(nil)
)

// Config holds connection parameters for a RediSearch store.
type Config struct {
	Addrs    []string
	Username string
	Password string
	Prefix   string
}

// Store implements engine.Adapter over RediSearch via rueidis.
type Store struct {
	client   rueidis.Client
	prefix   string
	embedder engine.Embedder
	logger   *zap.Logger
}

// NewStore creates a RediSearch store.
func NewStore(cfg Config, deps engine.Deps) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "searchbridge:"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, embedder: deps.Embedder, logger: logger}, nil
}

// Factory builds a Store from index engine settings: addrs (comma-separated),
// username, password, prefix.
func Factory(settings map[string]string, deps engine.Deps) (engine.Adapter, error) {
	return NewStore(Config{
		Addrs:    splitAddrs(settings["addrs"]),
		Username: settings["username"],
		Password: settings["password"],
		Prefix:   settings["prefix"],
	}, deps)
}

func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// TestConnection pings the server; any failure yields false.
func (s *Store) TestConnection(ctx context.Context) bool {
	cmd := s.client.B().Ping().Build()
	return s.client.Do(ctx, cmd).Error() == nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

// aliasName returns the live FT alias for an index handle.
func (s *Store) aliasName(handle string) string {
	return s.prefix + handle
}

// newBackingName generates a fresh backing index name.
func (s *Store) newBackingName(handle string) string {
	return fmt.Sprintf("%s%s_v%d", s.prefix, handle, time.Now().UnixNano())
}

// pointerKey is the KV key holding the current backing index name.
func (s *Store) pointerKey(handle string) string {
	return s.prefix + handle + ":backing"
}

// docKey returns the hash key for one document within a backing index.
func docKey(backing, id string) string {
	return backing + ":" + id
}

// currentBacking reads the backing index the handle's alias points to.
func (s *Store) currentBacking(ctx context.Context, handle string) (string, error) {
	cmd := s.b().Get().Key(s.pointerKey(handle)).Build()
	backing, err := s.do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return "", nil
		}
		return "", &engine.Error{Op: "GET", Err: err}
	}
	return backing, nil
}

func (s *Store) setBacking(ctx context.Context, handle, backing string) error {
	cmd := s.b().Set().Key(s.pointerKey(handle)).Value(backing).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &engine.Error{Op: "SET", Err: err}
	}
	return nil
}

func isRedisErr(err error, substr string) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), strings.ToLower(substr))
}
