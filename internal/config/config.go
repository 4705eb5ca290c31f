// Package config aggregates environment configuration and the per-network
// deployment descriptor.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config carries everything the process needs at startup. A missing signing
// key or deployment descriptor is a fatal configuration error, never a
// degraded mode.
type Config struct {
	Network         string
	RPCURL          string
	PrivateKey      string
	ContractAddress string

	APIKey          string
	HTTPPort        int
	RateLimitWindow time.Duration
	RateLimitMax    int

	// MetadataDSN selects the durable Postgres metadata store when set;
	// empty means the in-memory map.
	MetadataDSN string
}

// DeploymentDescriptor represents deployments/<network>.json.
type DeploymentDescriptor struct {
	Address string `json:"address"`
	ChainID int64  `json:"chainId"`
}

const (
	defaultRPCURL         = "http://127.0.0.1:8545"
	defaultNetwork        = "localhost"
	defaultDeploymentsDir = "./deployments"
	defaultAPIKey         = "demo_api_key_12345"
)

// Load reads configuration from the environment and the deployment
// descriptor for the selected network.
func Load() (*Config, error) {
	network := envOr("NETWORK", defaultNetwork)

	deploymentsDir := envOr("DEPLOYMENTS_DIR", defaultDeploymentsDir)
	descriptor, err := loadDeployment(filepath.Join(deploymentsDir, network+".json"))
	if err != nil {
		return nil, fmt.Errorf("load deployment descriptor: %w", err)
	}
	if descriptor.Address == "" {
		return nil, fmt.Errorf("deployment descriptor for %q has no contract address", network)
	}

	privateKey := envOr("RELAYER_PRIVATE_KEY", "")
	if privateKey == "" {
		return nil, fmt.Errorf("RELAYER_PRIVATE_KEY is required")
	}

	return &Config{
		Network:         network,
		RPCURL:          envOr("RPC_URL", defaultRPCURL),
		PrivateKey:      privateKey,
		ContractAddress: descriptor.Address,
		APIKey:          envOr("API_KEY", defaultAPIKey),
		HTTPPort:        envOrInt("PORT", 3001),
		RateLimitWindow: time.Duration(envOrInt("RATE_LIMIT_WINDOW_MS", 60000)) * time.Millisecond,
		RateLimitMax:    envOrInt("RATE_LIMIT_MAX_REQUESTS", 10),
		MetadataDSN:     envOr("METADATA_DSN", ""),
	}, nil
}

func loadDeployment(path string) (*DeploymentDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var descriptor DeploymentDescriptor
	if err := json.Unmarshal(raw, &descriptor); err != nil {
		return nil, err
	}
	return &descriptor, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
