package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret has no value.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves secret values by name.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from the process environment. A
// variable KEY_FILE, when set, names a file whose trimmed contents are the
// value of KEY.
type EnvironmentSecretStore struct{}

// NewEnvironmentSecretStore returns a store backed by os.Getenv.
func NewEnvironmentSecretStore() *EnvironmentSecretStore {
	return &EnvironmentSecretStore{}
}

func (EnvironmentSecretStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	if path := os.Getenv(key + "_FILE"); path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - operator supplied
		if err != nil {
			return "", fmt.Errorf("read secret %s: %w", key, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
}

func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// LoadSecretsFromEnv fills credentials that are commonly mounted as files
// rather than passed inline.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}

// LoadSecrets resolves credentials through store. Values already set are kept.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	if c.Storage.SQL.DSN == "" {
		c.Storage.SQL.DSN = store.GetWithDefault(ctx, "STARKIT_STORAGE_SQL_DSN", "")
	}
	if c.Storage.Redis.Password == "" {
		c.Storage.Redis.Password = store.GetWithDefault(ctx, "STARKIT_REDIS_PASSWORD", "")
	}
	if len(c.Security.APIKeys) == 0 {
		if keys := store.GetWithDefault(ctx, "STARKIT_SECURITY_API_KEYS", ""); keys != "" {
			for _, k := range strings.Split(keys, ",") {
				if k = strings.TrimSpace(k); k != "" {
					c.Security.APIKeys = append(c.Security.APIKeys, k)
				}
			}
		}
	}
	if c.Environment == EnvProduction && c.Storage.Adapter == "sql" && c.Storage.SQL.DSN == "" {
		return errors.New("production sql storage needs STARKIT_STORAGE_SQL_DSN or STARKIT_STORAGE_SQL_DSN_FILE")
	}
	return ctx.Err()
}
