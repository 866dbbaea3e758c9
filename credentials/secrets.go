package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/use-agent/feedharvest/config"
	"github.com/zalando/go-keyring"
)

// SecretSource fetches a secret's string payload by id.
type SecretSource interface {
	Fetch(ctx context.Context, secretID string) (string, error)
}

// NewSecretSource builds the source selected by cfg.Backend.
func NewSecretSource(ctx context.Context, cfg config.SecretsConfig) (SecretSource, error) {
	switch cfg.Backend {
	case "aws":
		return NewAWSSecretSource(ctx, cfg.AWSRegion)
	case "keyring":
		return NewKeyringSource(cfg.KeyringService), nil
	case "env":
		return EnvSource{Var: cfg.EnvVar}, nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}

// AWSSecretSource reads secrets from AWS Secrets Manager.
type AWSSecretSource struct {
	client *secretsmanager.Client
}

// NewAWSSecretSource loads the default AWS credential chain for region.
func NewAWSSecretSource(ctx context.Context, region string) (*AWSSecretSource, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return &AWSSecretSource{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

func (s *AWSSecretSource) Fetch(ctx context.Context, secretID string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secrets: %s has no string value", secretID)
	}
	return *out.SecretString, nil
}

// KeyringSource reads secrets from the OS keychain.
type KeyringSource struct {
	service string
}

// NewKeyringSource creates a KeyringSource for the given service name.
func NewKeyringSource(service string) *KeyringSource {
	return &KeyringSource{service: service}
}

func (k *KeyringSource) Fetch(_ context.Context, secretID string) (string, error) {
	v, err := keyring.Get(k.service, secretID)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("secrets: %s not found in keyring service %s", secretID, k.service)
	}
	if err != nil {
		return "", fmt.Errorf("secrets: keyring get %s: %w", secretID, err)
	}
	return v, nil
}

// EnvSource reads the secret payload from an environment variable and
// ignores the secret id. Meant for local runs.
type EnvSource struct {
	Var string
}

func (e EnvSource) Fetch(_ context.Context, _ string) (string, error) {
	v := os.Getenv(e.Var)
	if v == "" {
		return "", fmt.Errorf("secrets: %s is empty", e.Var)
	}
	return v, nil
}
