package aws

import (
	"context"
	"fmt"
	"os"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Settings selects region, credentials and an optional custom endpoint
// (LocalStack) for every AWS client the service builds.
type Settings struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// SettingsFromEnv reads AWS_REGION, AWS_ENDPOINT, AWS_ACCESS_KEY_ID and
// AWS_SECRET_ACCESS_KEY.
func SettingsFromEnv() Settings {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return Settings{
		Region:          region,
		Endpoint:        os.Getenv("AWS_ENDPOINT"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}
}

// LoadAWSConfig loads the SDK config for s. Static credentials are used when
// provided, otherwise the default chain applies.
func LoadAWSConfig(ctx context.Context, s Settings) (sdkaws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(s.Region),
	}
	if s.AccessKeyID != "" || s.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, ""),
		))
	}
	if s.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(s.Endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}
