package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"
	"github.com/jonboulle/clockwork"
	"github.com/jordanlanch/bioforge/pkg/logger"
)

// ErrNotFound is returned when a backend has no value for a key
var ErrNotFound = errors.New("secret not found")

// Manager defines the interface for secrets management
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// Close closes any resources held by the manager
	Close() error
}

// Config holds secrets manager configuration
type Config struct {
	Backend       string // "env" or "aws-secrets-manager"
	AWSRegion     string
	Prefix        string // prepended to every AWS secret id, e.g. "bioforge/prod/"
	CacheDuration time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Backend:       "env",
		AWSRegion:     "us-east-1",
		CacheDuration: 5 * time.Minute,
	}
}

// NewManager creates a new secrets manager based on configuration
func NewManager(cfg Config, clock clockwork.Clock, log logger.Logger) (Manager, error) {
	switch cfg.Backend {
	case "aws-secrets-manager", "aws":
		log.Info("initializing AWS Secrets Manager", "region", cfg.AWSRegion)
		return NewAWSSecretsManager(cfg, clock, log)
	case "env", "environment", "":
		log.Info("using environment variables for secrets")
		return EnvironmentManager{}, nil
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
}

// EnvironmentManager loads secrets from environment variables
type EnvironmentManager struct{}

// GetSecret retrieves a secret from environment variables
func (EnvironmentManager) GetSecret(_ context.Context, key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return value, nil
}

// Close is a no-op for environment manager
func (EnvironmentManager) Close() error {
	return nil
}

// AWSSecretsManager loads secrets from AWS Secrets Manager and caches them
// for CacheDuration.
type AWSSecretsManager struct {
	client secretsmanageriface.SecretsManagerAPI
	config Config
	clock  clockwork.Clock
	log    logger.Logger

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// NewAWSSecretsManager creates a new AWS Secrets Manager client
func NewAWSSecretsManager(cfg Config, clock clockwork.Clock, log logger.Logger) (*AWSSecretsManager, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWSRegion),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newAWSSecretsManager(secretsmanager.New(sess), cfg, clock, log), nil
}

func newAWSSecretsManager(client secretsmanageriface.SecretsManagerAPI, cfg Config, clock clockwork.Clock, log logger.Logger) *AWSSecretsManager {
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = DefaultConfig().CacheDuration
	}
	return &AWSSecretsManager{
		client: client,
		config: cfg,
		clock:  clock,
		log:    log.With("component", "secrets"),
		cache:  make(map[string]cachedSecret),
	}
}

// GetSecret retrieves a secret from AWS Secrets Manager
func (m *AWSSecretsManager) GetSecret(ctx context.Context, key string) (string, error) {
	if value, ok := m.cached(key); ok {
		return value, nil
	}

	id := m.config.Prefix + key
	result, err := m.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == secretsmanager.ErrCodeResourceNotFoundException {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if result.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", id)
	}

	value := *result.SecretString
	m.mu.Lock()
	m.cache[key] = cachedSecret{value: value, expiresAt: m.clock.Now().Add(m.config.CacheDuration)}
	m.mu.Unlock()

	m.log.Info("loaded secret", "secret_id", id)
	return value, nil
}

func (m *AWSSecretsManager) cached(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.cache[key]
	if !ok || !m.clock.Now().Before(c.expiresAt) {
		return "", false
	}
	return c.value, true
}

// Close drops cached values. AWS sessions need no cleanup.
func (m *AWSSecretsManager) Close() error {
	m.mu.Lock()
	m.cache = make(map[string]cachedSecret)
	m.mu.Unlock()
	return nil
}
