package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the codespace server.
type Config struct {
	Port   int
	APIKey string

	// Command execution
	WorkspaceDir          string        // default working directory and file storage root
	Shell                 string        // shell that interprets commands
	DefaultCommandTimeout time.Duration // used when a request omits timeoutMillis
	MaxCommandTimeout     time.Duration // requests above this are clamped
	MaxOutputBytes        int           // per-stream capture cap

	// Collaboration
	PingInterval         time.Duration
	SubscriberQueueLimit int
	ExcludeOrigin        bool // don't echo cursor/code updates to their sender

	// Command audit log
	DataDir string // SQLite audit database directory; empty disables
	NATSURL string // JetStream for audit events; empty disables
	NodeID  string

	// Credential store (Redis); empty uses in-memory storage
	RedisURL string

	// S3-compatible object storage for workspace files; empty uses WorkspaceDir
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool

	// ConfigFile is an optional YAML file whose keys are env var names.
	ConfigFile string

	// AWS Secrets Manager: a JSON object keyed by env var names. Env vars
	// take precedence over secret values.
	SecretsARN string
}

// Load reads configuration from environment variables with sensible defaults.
// Values are resolved in order of precedence: environment, YAML file named by
// CODESPACE_CONFIG_FILE, AWS Secrets Manager (CODESPACE_SECRETS_ARN), defaults.
func Load() (*Config, error) {
	if path := os.Getenv("CODESPACE_CONFIG_FILE"); path != "" {
		if err := loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if arn := os.Getenv("CODESPACE_SECRETS_ARN"); arn != "" {
		if err := loadSecretsManager(arn); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", arn, err)
		}
	}

	cfg := &Config{
		Port:   8080,
		APIKey: os.Getenv("CODESPACE_API_KEY"),

		WorkspaceDir:   envOrDefault("CODESPACE_WORKSPACE_DIR", "/workspace"),
		Shell:          envOrDefault("CODESPACE_SHELL", "/bin/sh"),
		MaxOutputBytes: envOrDefaultInt("CODESPACE_MAX_OUTPUT_BYTES", 1<<20),

		SubscriberQueueLimit: envOrDefaultInt("CODESPACE_SUBSCRIBER_QUEUE_LIMIT", 1024),
		ExcludeOrigin:        os.Getenv("CODESPACE_EXCLUDE_ORIGIN") == "true",

		DataDir: os.Getenv("CODESPACE_DATA_DIR"),
		NATSURL: os.Getenv("CODESPACE_NATS_URL"),
		NodeID:  envOrDefault("CODESPACE_NODE_ID", hostname()),

		RedisURL: os.Getenv("CODESPACE_REDIS_URL"),

		S3Endpoint:        os.Getenv("CODESPACE_S3_ENDPOINT"),
		S3Bucket:          os.Getenv("CODESPACE_S3_BUCKET"),
		S3Region:          envOrDefault("CODESPACE_S3_REGION", "us-east-1"),
		S3AccessKeyID:     os.Getenv("CODESPACE_S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("CODESPACE_S3_SECRET_ACCESS_KEY"),
		S3ForcePathStyle:  os.Getenv("CODESPACE_S3_FORCE_PATH_STYLE") == "true",

		ConfigFile: os.Getenv("CODESPACE_CONFIG_FILE"),
		SecretsARN: os.Getenv("CODESPACE_SECRETS_ARN"),
	}

	if portStr := os.Getenv("CODESPACE_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid CODESPACE_PORT %q: %w", portStr, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid CODESPACE_PORT %d: must be between 1 and 65535", port)
		}
		cfg.Port = port
	}

	var err error
	if cfg.DefaultCommandTimeout, err = envDuration("CODESPACE_DEFAULT_COMMAND_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxCommandTimeout, err = envDuration("CODESPACE_MAX_COMMAND_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PingInterval, err = envDuration("CODESPACE_PING_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.DefaultCommandTimeout > cfg.MaxCommandTimeout {
		return nil, fmt.Errorf("CODESPACE_DEFAULT_COMMAND_TIMEOUT (%s) exceeds CODESPACE_MAX_COMMAND_TIMEOUT (%s)",
			cfg.DefaultCommandTimeout, cfg.MaxCommandTimeout)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envDuration parses a Go duration ("45s", "2m"); a bare integer is taken as
// milliseconds. Durations must be positive.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		ms, convErr := strconv.Atoi(v)
		if convErr != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		d = time.Duration(ms) * time.Millisecond
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, v)
	}
	return d, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "codespace-local"
	}
	return h
}

// loadFile reads a YAML mapping of env var names to values and sets any that
// are not already present in the environment.
func loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var values map[string]interface{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse YAML: %w", err)
	}

	applied := applyDefaults(values)
	log.Printf("config: loaded %d values from %s (%d keys in file, env overrides take precedence)", applied, path, len(values))
	return nil
}

// loadSecretsManager fetches a JSON secret from AWS Secrets Manager and sets
// any values as environment variables (only if not already set, so explicit
// env vars always win). Uses the default AWS credential chain.
func loadSecretsManager(arn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Extract region from ARN: arn:aws:secretsmanager:REGION:ACCOUNT:secret:NAME
	var opts []func(*awsconfig.LoadOptions) error
	if parts := strings.Split(arn, ":"); len(parts) >= 4 && parts[3] != "" {
		opts = append(opts, awsconfig.WithRegion(parts[3]))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg)
	result, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return fmt.Errorf("GetSecretValue: %w", err)
	}

	if result.SecretString == nil {
		return fmt.Errorf("secret %s has no string value", arn)
	}

	var secrets map[string]interface{}
	if err := json.Unmarshal([]byte(*result.SecretString), &secrets); err != nil {
		return fmt.Errorf("parse secret JSON: %w", err)
	}

	applied := applyDefaults(secrets)
	log.Printf("config: loaded %d secrets from Secrets Manager (%d keys in secret, env overrides take precedence)", applied, len(secrets))
	return nil
}

func applyDefaults(values map[string]interface{}) int {
	applied := 0
	for key, value := range values {
		if os.Getenv(key) != "" {
			continue
		}
		os.Setenv(key, fmt.Sprint(value))
		applied++
	}
	return applied
}
