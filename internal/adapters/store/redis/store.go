package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bnema/bidbot/internal/domain"
	"github.com/bnema/bidbot/internal/ports"
)

const (
	defaultTTL    = 72 * time.Hour
	defaultPrefix = "bidbot"
)

// SeenStore keeps the processed-project history in redis, one expiring key
// per session and project id.
type SeenStore struct {
	client   *goredis.Client
	ttl      time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

var _ ports.SeenProjects = (*SeenStore)(nil)

type Option func(*SeenStore)

func WithPassword(password string) Option {
	return func(s *SeenStore) {
		s.password = password
	}
}

func WithDB(db int) Option {
	return func(s *SeenStore) {
		s.db = db
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *SeenStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *SeenStore) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *SeenStore) {
		if client != nil {
			s.client = client
		}
	}
}

func New(ctx context.Context, addr string, opts ...Option) (*SeenStore, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &SeenStore{
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		addr:   addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(ctx).Err(); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return s, nil
}

func (s *SeenStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *SeenStore) Seen(ctx context.Context, sessionID domain.SessionID, projectID domain.ProjectID) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID, projectID)).Result()
	if err != nil {
		return false, fmt.Errorf("check seen project: %w", err)
	}
	return n > 0, nil
}

// MarkSeen sets the key and restarts its TTL.
func (s *SeenStore) MarkSeen(ctx context.Context, sessionID domain.SessionID, projectID domain.ProjectID) error {
	if err := s.client.Set(ctx, s.key(sessionID, projectID), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("mark project seen: %w", err)
	}
	return nil
}

func (s *SeenStore) key(sessionID domain.SessionID, projectID domain.ProjectID) string {
	return s.prefix + ":seen:" + string(sessionID) + ":" + strconv.FormatInt(int64(projectID), 10)
}
