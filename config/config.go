// Package config provides configuration loading and management for
// trawler. Defaults come first, a user config and a project config
// layer on top, command line flags override last.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete trawler configuration.
type Config struct {
	NATS      NATSConfig      `yaml:"nats"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker"`
	Playstore PlaystoreConfig `yaml:"playstore"`
	Spool     SpoolConfig     `yaml:"spool"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// MongoConfig configures the MongoDB backing stores.
type MongoConfig struct {
	// URI is the MongoDB connection string
	URI string `yaml:"uri"`
	// MetadataDatabase holds series, crawls, targets and tokens
	MetadataDatabase string `yaml:"metadata_database"`
	// DataDatabase holds harvested documents
	DataDatabase string `yaml:"data_database"`
	// TargetIdentity lists the kwargs fields identifying a target;
	// the unique target index is built over them
	TargetIdentity []string `yaml:"target_identity"`
}

// SchedulerConfig tunes the daemon's scheduling loop.
type SchedulerConfig struct {
	// StepSize is the number of targets submitted per step
	StepSize int `yaml:"step_size"`
	// StepPeriod is the pacing interval between steps
	StepPeriod time.Duration `yaml:"step_period"`
	// Progress renders a live progress display while the daemon runs
	Progress bool `yaml:"progress"`
}

// WorkerConfig tunes the queue consumers of a worker process.
type WorkerConfig struct {
	// Queues lists the task queues the worker consumes
	Queues []string `yaml:"queues"`
	// Concurrency is the number of parallel handlers per queue
	Concurrency int `yaml:"concurrency"`
	// MaxDeliver caps delivery attempts per task invocation
	MaxDeliver int `yaml:"max_deliver"`
	// AckWait is how long a single attempt may run
	AckWait time.Duration `yaml:"ack_wait"`
	// RequestRate throttles the request queue, handler starts per
	// second, zero means unlimited
	RequestRate float64 `yaml:"request_rate"`
}

// PlaystoreConfig tunes the Play Store client.
type PlaystoreConfig struct {
	// RequestsPerSecond caps the request rate against the store
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Attempts is the number of tries per request
	Attempts int `yaml:"attempts"`
	// Timeout bounds one HTTP exchange
	Timeout time.Duration `yaml:"timeout"`
	// UserAgent identifies the crawler
	UserAgent string `yaml:"user_agent"`
	// Country selects the storefront
	Country string `yaml:"country"`
}

// SpoolConfig configures the target import watcher.
type SpoolConfig struct {
	// Dir is the drop directory watched for target files
	Dir string `yaml:"dir"`
	// Languages is applied to every imported app id
	Languages []string `yaml:"languages"`
	// Tags are stamped onto every imported target
	Tags []string `yaml:"tags"`
	// Debounce is how long a file must rest before it is imported
	Debounce time.Duration `yaml:"debounce"`
	// BucketSize is the bulk insert batch size
	BucketSize int `yaml:"bucket_size"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Mongo: MongoConfig{
			URI:              "mongodb://localhost:27017",
			MetadataDatabase: "trawler",
			DataDatabase:     "trawler_data",
			TargetIdentity:   []string{"app_id", "lang"},
		},
		Scheduler: SchedulerConfig{
			StepSize:   5,
			StepPeriod: 5 * time.Second,
		},
		Worker: WorkerConfig{
			Queues:      []string{"crawler", "pipeline", "callback", "terminator", "request"},
			Concurrency: 4,
			MaxDeliver:  3,
			AckWait:     5 * time.Minute,
			RequestRate: 10,
		},
		Playstore: PlaystoreConfig{
			RequestsPerSecond: 10,
			Attempts:          3,
			Timeout:           30 * time.Second,
			Country:           "us",
		},
		Spool: SpoolConfig{
			Languages:  []string{"en"},
			Debounce:   500 * time.Millisecond,
			BucketSize: 10000,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Mongo.MetadataDatabase == "" {
		return fmt.Errorf("mongo.metadata_database is required")
	}
	if c.Mongo.DataDatabase == "" {
		return fmt.Errorf("mongo.data_database is required")
	}
	if c.Scheduler.StepSize <= 0 {
		return fmt.Errorf("scheduler.step_size must be positive")
	}
	if c.Scheduler.StepPeriod <= 0 {
		return fmt.Errorf("scheduler.step_period must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.MaxDeliver <= 0 {
		return fmt.Errorf("worker.max_deliver must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	overlay, err := loadOverlay(path)
	if err != nil {
		return nil, err
	}
	config.Merge(overlay)
	return config, nil
}

// loadOverlay decodes a config file without filling defaults, so that
// merging it only touches the fields the file names.
func loadOverlay(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Mongo
	if other.Mongo.URI != "" {
		c.Mongo.URI = other.Mongo.URI
	}
	if other.Mongo.MetadataDatabase != "" {
		c.Mongo.MetadataDatabase = other.Mongo.MetadataDatabase
	}
	if other.Mongo.DataDatabase != "" {
		c.Mongo.DataDatabase = other.Mongo.DataDatabase
	}
	if len(other.Mongo.TargetIdentity) > 0 {
		c.Mongo.TargetIdentity = other.Mongo.TargetIdentity
	}

	// Scheduler
	if other.Scheduler.StepSize != 0 {
		c.Scheduler.StepSize = other.Scheduler.StepSize
	}
	if other.Scheduler.StepPeriod != 0 {
		c.Scheduler.StepPeriod = other.Scheduler.StepPeriod
	}
	if other.Scheduler.Progress {
		c.Scheduler.Progress = true
	}

	// Worker
	if len(other.Worker.Queues) > 0 {
		c.Worker.Queues = other.Worker.Queues
	}
	if other.Worker.Concurrency != 0 {
		c.Worker.Concurrency = other.Worker.Concurrency
	}
	if other.Worker.MaxDeliver != 0 {
		c.Worker.MaxDeliver = other.Worker.MaxDeliver
	}
	if other.Worker.AckWait != 0 {
		c.Worker.AckWait = other.Worker.AckWait
	}
	if other.Worker.RequestRate != 0 {
		c.Worker.RequestRate = other.Worker.RequestRate
	}

	// Playstore
	if other.Playstore.RequestsPerSecond != 0 {
		c.Playstore.RequestsPerSecond = other.Playstore.RequestsPerSecond
	}
	if other.Playstore.Attempts != 0 {
		c.Playstore.Attempts = other.Playstore.Attempts
	}
	if other.Playstore.Timeout != 0 {
		c.Playstore.Timeout = other.Playstore.Timeout
	}
	if other.Playstore.UserAgent != "" {
		c.Playstore.UserAgent = other.Playstore.UserAgent
	}
	if other.Playstore.Country != "" {
		c.Playstore.Country = other.Playstore.Country
	}

	// Spool
	if other.Spool.Dir != "" {
		c.Spool.Dir = other.Spool.Dir
	}
	if len(other.Spool.Languages) > 0 {
		c.Spool.Languages = other.Spool.Languages
	}
	if len(other.Spool.Tags) > 0 {
		c.Spool.Tags = other.Spool.Tags
	}
	if other.Spool.Debounce != 0 {
		c.Spool.Debounce = other.Spool.Debounce
	}
	if other.Spool.BucketSize != 0 {
		c.Spool.BucketSize = other.Spool.BucketSize
	}
}
