package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Points PointsConfig `mapstructure:"points"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PointEvents string `mapstructure:"point_events"`
}

// PointsConfig 积分业务配置
// Timezone 决定"今天"的口径，所有每日重置（签到、游客限额）都以该时区的零点为界
type PointsConfig struct {
	Timezone         string `mapstructure:"timezone"`
	StreakWindowDays int    `mapstructure:"streak_window_days"`
	StreakBaseReward int    `mapstructure:"streak_base_reward"`
	StreakStepReward int    `mapstructure:"streak_step_reward"`
	StreakFlatReward int    `mapstructure:"streak_flat_reward"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	applyDefaults(config)
	GlobalConfig = config
	return config
}

func applyDefaults(c *Config) {
	if c.Points.Timezone == "" {
		c.Points.Timezone = "Asia/Shanghai"
	}
	if c.Points.StreakWindowDays <= 0 {
		c.Points.StreakWindowDays = 30
	}
	if c.Points.StreakBaseReward <= 0 {
		c.Points.StreakBaseReward = 20
	}
	if c.Points.StreakStepReward <= 0 {
		c.Points.StreakStepReward = 10
	}
	if c.Points.StreakFlatReward <= 0 {
		c.Points.StreakFlatReward = 100
	}
}
