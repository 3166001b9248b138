package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/utils"
)

// Config holds every tunable the core components need. Values come from an
// optional YAML file (CONFIG_PATH) with env overrides applied on top, so a
// bare container can run on env vars alone.
type Config struct {
	Port string `yaml:"port"`

	Workers       int           `yaml:"workers"`
	QueueCapacity int           `yaml:"queue_capacity"`
	JobDeadline   time.Duration `yaml:"job_deadline"`

	CacheCapacity  int `yaml:"cache_capacity"`
	CohortCapacity int `yaml:"cohort_capacity"`

	CohortBucket   string        `yaml:"cohort_bucket"`
	CohortPrefix   string        `yaml:"cohort_prefix"`
	StorageRetries int           `yaml:"storage_retries"`
	StorageBackoff time.Duration `yaml:"storage_backoff"`

	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

func Default() Config {
	return Config{
		Port:           "8080",
		Workers:        4,
		QueueCapacity:  64,
		JobDeadline:    5 * time.Minute,
		CacheCapacity:  256,
		CohortCapacity: 4,
		CohortPrefix:   "cohorts",
		StorageRetries: 4,
		StorageBackoff: 250 * time.Millisecond,
		RedisChannel:   "phenoscope.jobs",
	}
}

// Load reads CONFIG_PATH (if set), then applies env overrides.
func Load(log *logger.Logger) (Config, error) {
	cfg := Default()

	path := utils.GetEnv("CONFIG_PATH", "", log)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Port = utils.GetEnv("PORT", cfg.Port, log)
	cfg.Workers = utils.GetEnvAsInt("WORKER_CONCURRENCY", cfg.Workers, log)
	cfg.QueueCapacity = utils.GetEnvAsInt("JOB_QUEUE_CAPACITY", cfg.QueueCapacity, log)
	cfg.CacheCapacity = utils.GetEnvAsInt("RESULT_CACHE_CAPACITY", cfg.CacheCapacity, log)
	cfg.CohortCapacity = utils.GetEnvAsInt("COHORT_CACHE_CAPACITY", cfg.CohortCapacity, log)
	cfg.CohortBucket = utils.GetEnv("COHORT_GCS_BUCKET_NAME", cfg.CohortBucket, log)
	cfg.CohortPrefix = utils.GetEnv("COHORT_GCS_PREFIX", cfg.CohortPrefix, log)
	cfg.StorageRetries = utils.GetEnvAsInt("STORAGE_RETRIES", cfg.StorageRetries, log)
	if backoff := utils.GetEnvAsInt("STORAGE_BACKOFF_MS", 0, log); backoff > 0 {
		cfg.StorageBackoff = time.Duration(backoff) * time.Millisecond
	}
	cfg.RedisAddr = utils.GetEnv("REDIS_ADDR", cfg.RedisAddr, log)
	cfg.RedisChannel = utils.GetEnv("REDIS_CHANNEL", cfg.RedisChannel, log)

	if deadline := utils.GetEnvAsInt("JOB_DEADLINE_SECONDS", 0, log); deadline > 0 {
		cfg.JobDeadline = time.Duration(deadline) * time.Second
	}

	return cfg.validated()
}

func (c Config) validated() (Config, error) {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueCapacity < 1 {
		return c, fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.CacheCapacity < 1 {
		return c, fmt.Errorf("cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.CohortCapacity < 1 {
		c.CohortCapacity = 1
	}
	if c.JobDeadline <= 0 {
		c.JobDeadline = 5 * time.Minute
	}
	return c, nil
}
