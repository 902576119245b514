// Package config resolves process configuration from the environment.
// Remote tiers are optional: their backends are only constructed when the
// corresponding endpoint variables are set.
package config

import (
	"os"
	"strconv"

	"sol_vanity/internal/backend"

	"github.com/joho/godotenv"
)

// AppConfig is everything the CLI needs beyond its flags.
type AppConfig struct {
	DebugMode bool
	Redis     *RedisConfig
	GCPBatch  *GCPBatchConfig
	AWSBatch  *AWSBatchConfig
}

// RedisConfig configures the remote CPU tier's job queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Queue    string
}

// GCPBatchConfig configures the GCP Batch GPU tier.
type GCPBatchConfig struct {
	Endpoint     string
	Token        string
	DefaultQueue string
	DefaultImage string
}

// AWSBatchConfig configures the AWS Batch GPU tier.
type AWSBatchConfig struct {
	Endpoint     string
	AuthToken    string
	DefaultQueue string
	DefaultImage string
}

// Load reads an optional .env file and the process environment. A missing
// .env file is not an error; explicit environment variables win either way.
func Load() *AppConfig {
	_ = godotenv.Load()

	return &AppConfig{
		DebugMode: os.Getenv("DEBUG_MODE") == "true",
		Redis:     newRedisConfig(),
		GCPBatch:  newGCPBatchConfig(),
		AWSBatch:  newAWSBatchConfig(),
	}
}

func newRedisConfig() *RedisConfig {
	addr := os.Getenv("SOLVANITY_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	db, _ := strconv.Atoi(os.Getenv("SOLVANITY_REDIS_DB"))
	return &RedisConfig{
		Addr:     addr,
		Password: os.Getenv("SOLVANITY_REDIS_PASSWORD"),
		DB:       db,
		Queue:    os.Getenv("SOLVANITY_REDIS_QUEUE"),
	}
}

func newGCPBatchConfig() *GCPBatchConfig {
	endpoint := os.Getenv("SOLVANITY_GCP_BATCH_ENDPOINT")
	if endpoint == "" {
		return nil
	}
	return &GCPBatchConfig{
		Endpoint:     endpoint,
		Token:        os.Getenv("SOLVANITY_GCP_BATCH_TOKEN"),
		DefaultQueue: os.Getenv("SOLVANITY_GCP_BATCH_QUEUE"),
		DefaultImage: os.Getenv("SOLVANITY_GCP_BATCH_IMAGE"),
	}
}

func newAWSBatchConfig() *AWSBatchConfig {
	endpoint := os.Getenv("SOLVANITY_AWS_BATCH_ENDPOINT")
	if endpoint == "" {
		return nil
	}
	return &AWSBatchConfig{
		Endpoint:     endpoint,
		AuthToken:    os.Getenv("SOLVANITY_AWS_BATCH_TOKEN"),
		DefaultQueue: os.Getenv("SOLVANITY_AWS_BATCH_QUEUE"),
		DefaultImage: os.Getenv("SOLVANITY_AWS_BATCH_IMAGE"),
	}
}

// RedisOptions maps the config onto the backend's option struct.
func (c *RedisConfig) RedisOptions() backend.RedisCPUOptions {
	return backend.RedisCPUOptions{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		Queue:    c.Queue,
	}
}

// GCPOptions maps the config onto the backend's option struct.
func (c *GCPBatchConfig) GCPOptions() backend.GCPBatchOptions {
	return backend.GCPBatchOptions{
		Endpoint:     c.Endpoint,
		Token:        c.Token,
		DefaultQueue: c.DefaultQueue,
		DefaultImage: c.DefaultImage,
	}
}

// AWSOptions maps the config onto the backend's option struct.
func (c *AWSBatchConfig) AWSOptions() backend.AWSBatchOptions {
	return backend.AWSBatchOptions{
		Endpoint:     c.Endpoint,
		AuthToken:    c.AuthToken,
		DefaultQueue: c.DefaultQueue,
		DefaultImage: c.DefaultImage,
	}
}
