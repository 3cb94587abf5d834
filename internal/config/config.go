package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env  string `mapstructure:"env"`
	Port int    `mapstructure:"port"`
}

type StorageConfig struct {
	// Driver is "mongo" in deployments; "memory" runs without a database
	// for local development.
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI                string `mapstructure:"uri"`
	Database           string `mapstructure:"database"`
	ThreadsCollection  string `mapstructure:"threads_collection"`
	MessagesCollection string `mapstructure:"messages_collection"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type JWTConfig struct {
	Algorithm     string `mapstructure:"algorithm"`
	Secret        string `mapstructure:"secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type ServicesConfig struct {
	ConsulAddr string `mapstructure:"consul_addr"`
	// static fallbacks when consul is not configured
	UserServiceURL     string `mapstructure:"user_service_url"`
	PropertyServiceURL string `mapstructure:"property_service_url"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Mongo     MongoConfig     `mapstructure:"mongodb"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Services  ServicesConfig  `mapstructure:"services"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	RequestTimeout time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	if c.App.Port == 0 {
		c.App.Port = 8084
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "mongo"
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://localhost:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "messaging"
	}
	if c.Mongo.ThreadsCollection == "" {
		c.Mongo.ThreadsCollection = "threads"
	}
	if c.Mongo.MessagesCollection == "" {
		c.Mongo.MessagesCollection = "messages"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "messaging.message.sent"
	}
	if c.JWT.Algorithm == "" {
		c.JWT.Algorithm = "HS256"
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 120
	}
	c.RequestTimeout = 10 * time.Second
	return &c, nil
}
