// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wheelhouse-dev/wheelhouse/internal/config"
)

// Default names of the variables credentials are read from.
const (
	DefaultAccessKeyEnv = "WHEELHOUSE_S3_ACCESS_KEY"
	DefaultSecretKeyEnv = "WHEELHOUSE_S3_SECRET_KEY"
)

// ErrInvalidConfig is wrapped by every Config validation failure.
var ErrInvalidConfig = errors.New("invalid publish configuration")

// Config locates the bucket and carries the credentials.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	Secure    bool
	AccessKey string
	SecretKey string
}

// ConfigFrom combines the publish section of the user configuration with
// credentials taken from env. env must already be limited to the two
// credential variables; nothing else is consulted.
func ConfigFrom(pc config.PublishConfig, env map[string]string) Config {
	return Config{
		Endpoint:  pc.Endpoint,
		Bucket:    pc.Bucket,
		Prefix:    strings.Trim(pc.Prefix, "/"),
		Region:    pc.Region,
		Secure:    pc.Secure,
		AccessKey: env[CredentialKeys(pc)[0]],
		SecretKey: env[CredentialKeys(pc)[1]],
	}
}

// CredentialKeys names the access and secret key variables of pc.
func CredentialKeys(pc config.PublishConfig) []string {
	access, secret := pc.AccessKeyEnv, pc.SecretKeyEnv
	if access == "" {
		access = DefaultAccessKeyEnv
	}
	if secret == "" {
		secret = DefaultSecretKeyEnv
	}
	return []string{access, secret}
}

// Validate reports the first missing or malformed field.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Endpoint) == "":
		return fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	case strings.Contains(c.Endpoint, "://"):
		return fmt.Errorf("%w: endpoint must not include a scheme: %q", ErrInvalidConfig, c.Endpoint)
	case strings.TrimSpace(c.Bucket) == "":
		return fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	case c.AccessKey == "" || c.SecretKey == "":
		return fmt.Errorf("%w: access and secret key are required", ErrInvalidConfig)
	}
	return nil
}

// NewClient connects to the configured endpoint.
func NewClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.Secure,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}
	return client, nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}
