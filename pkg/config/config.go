package config

import (
	"time"

	"github.com/spf13/viper"
)

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MediaConfig struct {
	Bucket string `mapstructure:"bucket"`
	Region string `mapstructure:"region"`
}

type WSConfig struct {
	PongWaitSeconds     int   `mapstructure:"pong_wait_seconds"`
	WriteWaitSeconds    int   `mapstructure:"write_wait_seconds"`
	MaxMessageSizeBytes int64 `mapstructure:"max_message_size_bytes"`
}

type Config struct {
	Env       string      `mapstructure:"env"`
	Addr      string      `mapstructure:"addr"`
	JWTSecret string      `mapstructure:"jwt_secret"`
	Mongo     MongoConfig `mapstructure:"mongo"`
	Redis     RedisConfig `mapstructure:"redis"`
	Kafka     KafkaConfig `mapstructure:"kafka"`
	Media     MediaConfig `mapstructure:"media"`
	WS        WSConfig    `mapstructure:"ws"`

	// Derived timeouts.
	PongWait   time.Duration
	WriteWait  time.Duration
	PingPeriod time.Duration
}

// Load reads the optional config file at path and applies environment
// overrides. Missing files are not an error; defaults cover local development.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("addr", ":8080")
	v.SetDefault("jwt_secret", "dev_secret_change_me")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "staffchat")
	v.SetDefault("redis.addr", "")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "chat-events")
	v.SetDefault("ws.pong_wait_seconds", 60)
	v.SetDefault("ws.write_wait_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 1<<16)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	c.PongWait = time.Duration(c.WS.PongWaitSeconds) * time.Second
	c.WriteWait = time.Duration(c.WS.WriteWaitSeconds) * time.Second
	// Pings must fire before the pong deadline expires.
	c.PingPeriod = c.PongWait * 9 / 10
	return &c, nil
}
