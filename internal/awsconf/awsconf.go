// Package awsconf resolves the shared AWS configuration used by the
// recognition, model, and synthesis clients.
package awsconf

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/version"
)

// Load builds an aws.Config for cfg's region and optional profile.
func Load(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options(cfg)...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func options(cfg config.AWSConfig) []func(*awsconfig.LoadOptions) error {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithAppID(version.UserAgent()),
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	return opts
}

// CheckCredentials resolves credentials once and reports where they came
// from.
func CheckCredentials(ctx context.Context, awsCfg aws.Config) (string, error) {
	if awsCfg.Credentials == nil {
		return "", fmt.Errorf("no aws credential provider configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve aws credentials: %w", err)
	}
	if !creds.HasKeys() {
		return "", fmt.Errorf("aws credentials resolved without keys")
	}
	return creds.Source, nil
}
