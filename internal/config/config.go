package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable override
const EnvPrefix = "SENSORRELAY"

// Config holds all application configuration
type Config struct {
	Bus      BusConfig      `mapstructure:"bus"`
	InfluxDB InfluxDBConfig `mapstructure:"influxdb"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Model    ModelConfig    `mapstructure:"model"`
	Sampler  SamplerConfig  `mapstructure:"sampler"`
	Server   ServerConfig   `mapstructure:"server"`
}

// BusConfig holds message bus configuration shared by the edge and the relay
type BusConfig struct {
	Transport          string        `mapstructure:"transport"`
	Brokers            []string      `mapstructure:"brokers"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	TLS                bool          `mapstructure:"tls"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	ClientID           string        `mapstructure:"client_id"`
	GroupID            string        `mapstructure:"group_id"`
	Topics             []string      `mapstructure:"topics"`
	PublishTopic       string        `mapstructure:"publish_topic"`
	QoS                int           `mapstructure:"qos"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
}

// InfluxDBConfig holds InfluxDB-related configuration
type InfluxDBConfig struct {
	URL          string        `mapstructure:"url"`
	Org          string        `mapstructure:"org"`
	Token        string        `mapstructure:"token"`
	Bucket       string        `mapstructure:"bucket"`
	Measurement  string        `mapstructure:"measurement"`
	Batch        bool          `mapstructure:"batch"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// RedisConfig holds configuration for the recent-anomaly index
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Retention time.Duration `mapstructure:"retention"`
}

// ModelConfig locates the scoring artifacts. Paths are local files,
// file:// or s3:// URIs.
type ModelConfig struct {
	Path          string `mapstructure:"path"`
	ThresholdPath string `mapstructure:"threshold_path"`
	AWSRegion     string `mapstructure:"aws_region"`
}

// SamplerConfig holds edge sampling configuration
type SamplerConfig struct {
	Mode             string        `mapstructure:"mode"`
	Interval         time.Duration `mapstructure:"interval"`
	HardwareInterval time.Duration `mapstructure:"hardware_interval"`
	BaseTemperature  float64       `mapstructure:"base_temperature"`
	BaseHumidity     float64       `mapstructure:"base_humidity"`
	SpikePeriod      time.Duration `mapstructure:"spike_period"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxReadAttempts  int           `mapstructure:"max_read_attempts"`
	IIODevice        string        `mapstructure:"iio_device"`
	AirQualityGPIO   int           `mapstructure:"air_quality_gpio"`
	DeviceID         string        `mapstructure:"device_id"`
}

// ServerConfig holds the ops HTTP listener configuration
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"

	SamplerSimulated = "simulated"
	SamplerHardware  = "hardware"
)

// Load loads configuration from an optional YAML file and environment
// variables on top of sensible defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Printf("Using config file: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bus.transport", TransportMQTT)
	v.SetDefault("bus.brokers", []string{"ssl://localhost:8883"})
	v.SetDefault("bus.username", "")
	v.SetDefault("bus.password", "")
	v.SetDefault("bus.tls", true)
	v.SetDefault("bus.insecure_skip_verify", false)
	v.SetDefault("bus.client_id", "")
	v.SetDefault("bus.group_id", "sensor-anomaly-relay")
	v.SetDefault("bus.topics", []string{"pi_data", "esp32/dustsensor"})
	v.SetDefault("bus.publish_topic", "pi_data")
	v.SetDefault("bus.qos", 0)
	v.SetDefault("bus.connect_timeout", 10*time.Second)

	v.SetDefault("influxdb.url", "http://localhost:8086")
	v.SetDefault("influxdb.org", "myorg")
	v.SetDefault("influxdb.token", "")
	v.SetDefault("influxdb.bucket", "project")
	v.SetDefault("influxdb.measurement", "sensor_data")
	v.SetDefault("influxdb.batch", false)
	v.SetDefault("influxdb.batch_size", 500)
	v.SetDefault("influxdb.batch_timeout", time.Second)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.retention", 24*time.Hour)

	v.SetDefault("model.path", "tensorflow/output/autoencoder_anomaly.aenc")
	v.SetDefault("model.threshold_path", "tensorflow/output/anomaly_threshold.txt")
	v.SetDefault("model.aws_region", "eu-west-1")

	v.SetDefault("sampler.mode", SamplerSimulated)
	v.SetDefault("sampler.interval", time.Second)
	v.SetDefault("sampler.hardware_interval", 5*time.Second)
	v.SetDefault("sampler.base_temperature", 23.2)
	v.SetDefault("sampler.base_humidity", 42.8)
	v.SetDefault("sampler.spike_period", 30*time.Second)
	v.SetDefault("sampler.retry_delay", 2*time.Second)
	v.SetDefault("sampler.max_read_attempts", 30)
	v.SetDefault("sampler.iio_device", "/sys/bus/iio/devices/iio:device0")
	v.SetDefault("sampler.air_quality_gpio", 27)
	v.SetDefault("sampler.device_id", "")

	v.SetDefault("server.addr", ":9100")
}

var (
	ErrNoBrokers        = errors.New("at least one bus broker is required")
	ErrNoTopics         = errors.New("at least one relay topic is required")
	ErrUnknownTransport = errors.New("unknown bus transport")
	ErrUnknownSampler   = errors.New("unknown sampler mode")
)

func (c *Config) validateBus() error {
	switch c.Bus.Transport {
	case TransportMQTT, TransportKafka:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Bus.Transport)
	}
	if len(c.Bus.Brokers) == 0 {
		return ErrNoBrokers
	}
	if c.Bus.QoS < 0 || c.Bus.QoS > 2 {
		return fmt.Errorf("bus qos must be 0, 1 or 2, got %d", c.Bus.QoS)
	}
	return nil
}

// ValidateRelay checks the settings the relay process needs
func (c *Config) ValidateRelay() error {
	if err := c.validateBus(); err != nil {
		return err
	}
	if len(c.Bus.Topics) == 0 {
		return ErrNoTopics
	}
	if c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "" || c.InfluxDB.Org == "" {
		return errors.New("influxdb url, org and bucket are required")
	}
	if c.InfluxDB.Measurement == "" {
		return errors.New("influxdb measurement is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis addr is required when redis is enabled")
	}
	return nil
}

// ValidateEdge checks the settings the edge process needs
func (c *Config) ValidateEdge() error {
	if err := c.validateBus(); err != nil {
		return err
	}
	if c.Bus.PublishTopic == "" {
		return errors.New("bus publish_topic is required")
	}
	if c.Model.Path == "" || c.Model.ThresholdPath == "" {
		return errors.New("model path and threshold_path are required")
	}
	switch c.Sampler.Mode {
	case SamplerSimulated, SamplerHardware:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSampler, c.Sampler.Mode)
	}
	if c.Sampler.Interval <= 0 || c.Sampler.HardwareInterval <= 0 {
		return errors.New("sampler intervals must be positive")
	}
	if c.Sampler.MaxReadAttempts < 0 {
		return errors.New("sampler max_read_attempts must not be negative")
	}
	return nil
}
