package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type ObjectStorage struct {
	// Type is "s3" (default) or "local".
	Type      string `yaml:"Type"`
	Endpoint  string `yaml:"Endpoint"`
	AccessKey string `yaml:"AccessKey"`
	SecretKey string `yaml:"SecretKey"`
	Bucket    string `yaml:"Bucket"`
	Region    string `yaml:"Region"`
	// Compress stores attachment blobs zstd compressed.
	Compress bool `yaml:"Compress"`
	// Dir is the root directory for Type "local".
	Dir string `yaml:"Dir"`
}

type IMAP struct {
	Mailbox     string        `yaml:"Mailbox"`
	DialTimeout time.Duration `yaml:"DialTimeout"`
	// FetchRate is the maximum number of message fetches per second, 0 means unlimited.
	FetchRate float64 `yaml:"FetchRate"`
	// Debug writes the raw protocol trace to the log, including the LOGIN line.
	Debug bool `yaml:"Debug"`
}

type Config struct {
	Database      string        `yaml:"Database"`
	LogFile       string        `yaml:"LogFile"`
	Listen        string        `yaml:"Listen"`
	ObjectStorage ObjectStorage `yaml:"ObjectStorage"`
	IMAP          IMAP          `yaml:"IMAP"`
}

func Load(path string) (*Config, error) {
	conf := Default()

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(buf, conf); err != nil {
		return nil, err
	}

	conf.applyEnv()
	return conf, nil
}

func Default() *Config {
	return &Config{
		Listen: ":8080",
		ObjectStorage: ObjectStorage{
			Type: "s3",
		},
		IMAP: IMAP{
			Mailbox:     "INBOX",
			DialTimeout: 30 * time.Second,
		},
	}
}

// applyEnv overrides values with non-empty MAILSYNC_* environment variables.
func (c *Config) applyEnv() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("MAILSYNC_DATABASE", &c.Database)
	setString("MAILSYNC_LOG_FILE", &c.LogFile)
	setString("MAILSYNC_LISTEN", &c.Listen)
	setString("MAILSYNC_STORAGE_TYPE", &c.ObjectStorage.Type)
	setString("MAILSYNC_STORAGE_ENDPOINT", &c.ObjectStorage.Endpoint)
	setString("MAILSYNC_STORAGE_ACCESS_KEY", &c.ObjectStorage.AccessKey)
	setString("MAILSYNC_STORAGE_SECRET_KEY", &c.ObjectStorage.SecretKey)
	setString("MAILSYNC_STORAGE_BUCKET", &c.ObjectStorage.Bucket)
	setString("MAILSYNC_STORAGE_REGION", &c.ObjectStorage.Region)
	setString("MAILSYNC_STORAGE_DIR", &c.ObjectStorage.Dir)
	setString("MAILSYNC_IMAP_MAILBOX", &c.IMAP.Mailbox)

	if v := os.Getenv("MAILSYNC_STORAGE_COMPRESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ObjectStorage.Compress = b
		}
	}
	if v := os.Getenv("MAILSYNC_IMAP_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.IMAP.DialTimeout = d
		}
	}
	if v := os.Getenv("MAILSYNC_IMAP_FETCH_RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			c.IMAP.FetchRate = r
		}
	}
}
