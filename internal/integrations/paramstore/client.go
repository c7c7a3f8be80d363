// Package paramstore resolves provider API keys stored in AWS Systems Manager
// Parameter Store.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
)

// ErrNotFound is returned when the requested parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

// ssmAPI is the subset of *ssm.Client used by Client.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter reads the decrypted value of one parameter. Key depends on it
// rather than on *Client.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads SecureString parameters holding provider credentials.
type Client struct {
	api ssmAPI
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api}, nil
}

// GetParameter returns the decrypted value of name. A missing parameter
// (or a missing version of it) is reported as ErrNotFound.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "ParameterNotFound", "ParameterVersionNotFound":
				return "", fmt.Errorf("%w: %q", ErrNotFound, name)
			}
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", errors.New("paramstore: parameter missing value")
	}
	return *out.Parameter.Value, nil
}

// Token reads name and extracts the API key it holds.
func (c *Client) Token(ctx context.Context, name string) (string, error) {
	raw, err := c.GetParameter(ctx, name)
	if err != nil {
		return "", err
	}
	return ParseToken(raw)
}

// tokenPayload is the JSON shape accepted for a stored key. Some deployments
// write {"api_key": ...} instead of {"token": ...}.
type tokenPayload struct {
	Token  string `json:"token"`
	APIKey string `json:"api_key"`
}

// ParseToken extracts an API key from a parameter value. Plain values are
// the key itself; values starting with "{" are decoded as tokenPayload.
func ParseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		if raw == "" {
			return "", errors.New("paramstore: API token is empty")
		}
		return raw, nil
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token value as JSON: %w", err)
	}
	token := strings.TrimSpace(tp.Token)
	if token == "" {
		token = strings.TrimSpace(tp.APIKey)
	}
	if token == "" {
		return "", errors.New("paramstore: API token is empty")
	}
	return token, nil
}
