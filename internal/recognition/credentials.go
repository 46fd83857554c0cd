package recognition

import (
	"context"
	"fmt"
	"strings"
)

// AccessKeyLength is the length of every provider access key.
const AccessKeyLength = 32

// Credentials authenticate identify requests. They are resolved per attempt
// and never stored by the client.
type Credentials struct {
	AccessKey    string
	AccessSecret string
	Host         string
}

// CredentialSource supplies credentials at the start of an attempt.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialSource that always returns itself.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// Validate checks presence and shape without contacting the provider.
func (c Credentials) Validate() error {
	var missing []string
	if c.AccessKey == "" {
		missing = append(missing, "access key")
	}
	if c.AccessSecret == "" {
		missing = append(missing, "access secret")
	}
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Reason: "credentials not configured: missing " + strings.Join(missing, ", ")}
	}
	if len(c.AccessKey) != AccessKeyLength {
		return &ConfigurationError{Reason: fmt.Sprintf("access key format appears invalid: expected %d characters, got %d", AccessKeyLength, len(c.AccessKey))}
	}
	return nil
}

// String never reveals the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("key=%s secret=%s host=%s", MaskKey(c.AccessKey), maskSecret(c.AccessSecret), c.Host)
}

// MaskKey keeps the first eight and last four characters of a key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func maskSecret(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return fmt.Sprintf("<%d chars>", len(secret))
}
