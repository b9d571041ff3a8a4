package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/diagnosis/luxsuv-portal/pkg/config"
	"github.com/redis/go-redis/v9"
)

type MemoryStore struct {
	mu sync.Mutex
	s  Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = Session{}
	return nil
}

// FileStore keeps the session as a JSON object in a single file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(context.Context) (Session, error) {
	var s Session
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("corrupt session file %s: %w", f.path, err)
	}
	return s, nil
}

// Save writes to a temp file and renames it over the target, so readers see
// either the old session or the new one.
func (f *FileStore) Save(_ context.Context, s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

func (f *FileStore) Clear(context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RedisStore keeps the session in a hash under one key.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (r *RedisStore) Key() string { return r.key }

func (r *RedisStore) Load(ctx context.Context) (Session, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Session{}, err
	}
	isAdmin, _ := strconv.ParseBool(fields[KeyIsAdminAuthenticated])
	adminLoggedIn, _ := strconv.ParseBool(fields[KeyAdminLoggedIn])
	return Session{
		Token:                fields[KeyToken],
		Username:             fields[KeyUsername],
		IsAdminAuthenticated: isAdmin,
		AdminLoggedIn:        adminLoggedIn,
		AdminToken:           fields[KeyAdminToken],
		AdminEmail:           fields[KeyAdminEmail],
	}, nil
}

// Save replaces the whole hash inside MULTI/EXEC.
func (r *RedisStore) Save(ctx context.Context, s Session) error {
	values := map[string]any{
		KeyIsAdminAuthenticated: strconv.FormatBool(s.IsAdminAuthenticated),
		KeyAdminLoggedIn:        strconv.FormatBool(s.AdminLoggedIn),
	}
	for k, v := range map[string]string{
		KeyToken:      s.Token,
		KeyUsername:   s.Username,
		KeyAdminToken: s.AdminToken,
		KeyAdminEmail: s.AdminEmail,
	} {
		if v != "" {
			values[k] = v
		}
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.HSet(ctx, r.key, values)
		return nil
	})
	return err
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

// OpenRedis connects and pings.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Factory builds one Store per session id. The portal keeps one session per
// booking flow; the CLI uses a single id.
type Factory func(id string) Store

// NewFactory picks the backing store from configuration. The returned close
// function releases the redis connection, if any.
func NewFactory(ctx context.Context, cfg *config.Config) (Factory, func() error, error) {
	switch cfg.Session.Store {
	case "memory":
		return func(string) Store { return NewMemoryStore() }, func() error { return nil }, nil
	case "file":
		path := cfg.Session.FilePath
		return func(id string) Store {
			if id == "" || id == cfg.Session.ID {
				return NewFileStore(path)
			}
			return NewFileStore(filepath.Join(filepath.Dir(path), "sessions", id+".json"))
		}, func() error { return nil }, nil
	case "redis":
		client, err := OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		prefix := cfg.Session.KeyPrefix
		return func(id string) Store {
			return NewRedisStore(client, prefix+id)
		}, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
}
