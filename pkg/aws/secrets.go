package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// DBCredentialsSecret is the secret holding the catalog database login.
const DBCredentialsSecret = "importer/DB_CREDENTIALS"

// SecretsAPI is the part of the Secrets Manager client the importer calls.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// DBCredentials mirrors the POSTGRES_* environment keys. Empty fields leave
// the environment value in place.
type DBCredentials struct {
	User     string `json:"POSTGRES_USER"`
	Password string `json:"POSTGRES_PASSWORD"`
	DBName   string `json:"POSTGRES_DB"`
	Host     string `json:"POSTGRES_HOST"`
	Port     string `json:"POSTGRES_PORT"`
}

// SecretsClient reads secret strings once and serves later lookups from memory.
type SecretsClient struct {
	api   SecretsAPI
	cache map[string]string
	mu    sync.RWMutex
}

func NewSecretsClient(cfg sdkaws.Config) *SecretsClient {
	return NewSecretsClientWithAPI(secretsmanager.NewFromConfig(cfg))
}

func NewSecretsClientWithAPI(api SecretsAPI) *SecretsClient {
	return &SecretsClient{api: api, cache: make(map[string]string)}
}

func (s *SecretsClient) secretString(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	v, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return v, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: sdkaws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", fmt.Errorf("secret %s has no string value", name)
	}

	s.mu.Lock()
	s.cache[name] = *out.SecretString
	s.mu.Unlock()
	return *out.SecretString, nil
}

// GetDBCredentials decodes a JSON secret of POSTGRES_* keys.
func (s *SecretsClient) GetDBCredentials(ctx context.Context, name string) (DBCredentials, error) {
	var creds DBCredentials
	raw, err := s.secretString(ctx, name)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return DBCredentials{}, fmt.Errorf("secret %s is not a credentials document: %w", name, err)
	}
	return creds, nil
}
