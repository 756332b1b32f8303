// Package secrets resolves configuration values from AWS SSM Parameter Store.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/m3rciful/formbot/core/logger"
)

// ssmAPI is the subset of *ssm.Client used here.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter fetches one decrypted parameter value by name.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads parameters through the SSM API.
type Client struct {
	api ssmAPI
}

// New wraps an SSM API implementation.
func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("secrets: api must not be nil")
	}
	return &Client{api: api}, nil
}

// NewFromEnv builds a client from the default AWS credential chain.
func NewFromEnv(ctx context.Context, region string) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: load aws config: %w", err)
	}
	return New(ssm.NewFromConfig(cfg))
}

// GetParameter returns the decrypted value of name.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c == nil || c.api == nil {
		return "", errors.New("secrets: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("secrets: name is required")
	}
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("secrets: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("secrets: parameter %q missing value", name)
	}
	return *out.Parameter.Value, nil
}

// Target binds a parameter name (relative to the resolver prefix) to a config field.
type Target struct {
	Name string
	Dest *string
}

// Resolve fills every empty Dest with prefix+Name, each lookup bounded by timeout.
// Fields already set (file or env) are left alone.
func Resolve(ctx context.Context, g Getter, prefix string, timeout time.Duration, targets ...Target) error {
	if g == nil {
		return errors.New("secrets: nil getter")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for _, t := range targets {
		if t.Dest == nil || strings.TrimSpace(*t.Dest) != "" {
			continue
		}
		name := prefix + t.Name
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		val, err := g.GetParameter(callCtx, name)
		cancel()
		if err != nil {
			return err
		}
		*t.Dest = strings.TrimSpace(val)
		logger.Debug(ctx, "config.secrets", "secret.resolved",
			slog.String("name", name),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}
