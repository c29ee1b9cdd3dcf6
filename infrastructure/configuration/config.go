package configuration

import (
	"fmt"
	"os"
	"strconv"

	"social-publisher/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	App         App         `json:"app"`
	Database    Database    `json:"database"`
	RedisClient RedisClient `json:"redisClient"`
	BlobStore   BlobStore   `json:"blobStore"`
	Pubsub      Pubsub      `json:"pubsub"`
	ServiceBus  ServiceBus  `json:"serviceBus"`
	Crypto      Crypto      `json:"crypto"`
	Social      Social      `json:"social"`
	Logger      Logger      `json:"logger"`
}

type App struct {
	Port      int    `json:"port"`
	SecretKey string `json:"secretKey"`
	BaseURL   string `json:"baseURL"`
}

type Database struct {
	Psql  Db `json:"psql"`
	Mongo Db `json:"mongo"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisClient struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type BlobStore struct {
	Endpoint  string `json:"endpoint"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
}

type Pubsub struct {
	ProjectID string `json:"projectID"`
	Topic     string `json:"topic"`
}

type ServiceBus struct {
	Namespace string `json:"namespace"`
	Queue     string `json:"queue"`
}

// Crypto holds versioned token-encryption keys as 64-char hex strings keyed
// by version number.
type Crypto struct {
	Keys           map[string]string `json:"keys"`
	CurrentVersion int               `json:"currentVersion"`
}

type Logger struct {
	Format string `json:"format"`
}

// Social groups per-platform OAuth clients, throttling limits and the worker
// parameters of the publish subsystem.
type Social struct {
	YouTube   PlatformConfig `json:"youtube"`
	TikTok    PlatformConfig `json:"tiktok"`
	Instagram PlatformConfig `json:"instagram"`
	Worker    Worker         `json:"worker"`
}

type PlatformConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RedirectURI  string `json:"redirectURI"`
	// RateLimit is the max jobs released per RateWindowSeconds.
	RateLimit         int `json:"rateLimit"`
	RateWindowSeconds int `json:"rateWindowSeconds"`
	// Daily upload quota, only meaningful for YouTube.
	QuotaDailyLimit int64 `json:"quotaDailyLimit"`
	QuotaUploadCost int64 `json:"quotaUploadCost"`
	Concurrency     int   `json:"concurrency"`
}

type Worker struct {
	PollIntervalSeconds   int `json:"pollIntervalSeconds"`
	MaxAttempts           int `json:"maxAttempts"`
	RetryBackoffSeconds   int `json:"retryBackoffSeconds"`
	LockDurationSeconds   int `json:"lockDurationSeconds"`
	RefreshLockTTLSeconds int `json:"refreshLockTTLSeconds"`
}

var C Config

func init() {
	LoadConfig()
	initDatabase(&C)
	initApp(&C)
	initSocial(&C)
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func initDatabase(C *Config) {
	if C.Database.Psql.Name == "" {
		C.Database.Psql.Name = os.Getenv("DB_NAME")
	}
	if C.Database.Psql.Host == "" {
		C.Database.Psql.Host = os.Getenv("DB_HOST")
	}
	if C.Database.Psql.Port == "" {
		C.Database.Psql.Port = os.Getenv("DB_PORT")
	}
	if C.Database.Psql.User == "" {
		C.Database.Psql.User = os.Getenv("DB_USER")
	}
	if C.Database.Psql.Password == "" {
		C.Database.Psql.Password = os.Getenv("DB_PASSWORD")
	}
	if C.Database.Mongo.Host == "" {
		C.Database.Mongo.Host = os.Getenv("MONGO_HOST")
	}
	if C.Database.Mongo.Port == "" {
		C.Database.Mongo.Port = os.Getenv("MONGO_PORT")
	}
}

func initApp(C *Config) {
	// SECRET_KEY from environment overrides config for JWT verification.
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// Port resolution order (env overrides config): APP_PORT -> PORT -> config -> default 10002
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if C.App.Port == 0 {
		C.App.Port = 10002
	}
	if C.App.BaseURL == "" {
		C.App.BaseURL = getConfigValue("", "APP_BASE_URL", fmt.Sprintf("http://localhost:%d", C.App.Port))
	}
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
}

func initSocial(C *Config) {
	s := &C.Social

	s.YouTube.ClientID = getConfigValue(s.YouTube.ClientID, "YOUTUBE_CLIENT_ID", "")
	s.YouTube.ClientSecret = getConfigValue(s.YouTube.ClientSecret, "YOUTUBE_CLIENT_SECRET", "")
	s.YouTube.RedirectURI = getConfigValue(s.YouTube.RedirectURI, "YOUTUBE_REDIRECT_URL", "")
	s.TikTok.ClientID = getConfigValue(s.TikTok.ClientID, "TIKTOK_CLIENT_KEY", "")
	s.TikTok.ClientSecret = getConfigValue(s.TikTok.ClientSecret, "TIKTOK_CLIENT_SECRET", "")
	s.TikTok.RedirectURI = getConfigValue(s.TikTok.RedirectURI, "TIKTOK_REDIRECT_URL", "")
	s.Instagram.ClientID = getConfigValue(s.Instagram.ClientID, "INSTAGRAM_APP_ID", "")
	s.Instagram.ClientSecret = getConfigValue(s.Instagram.ClientSecret, "INSTAGRAM_APP_SECRET", "")
	s.Instagram.RedirectURI = getConfigValue(s.Instagram.RedirectURI, "INSTAGRAM_REDIRECT_URL", "")

	// Rate limits reflect real API throttling differences between platforms.
	applyLimitDefaults(&s.YouTube, 6, 3600, 2)
	applyLimitDefaults(&s.TikTok, 30, 3600, 4)
	applyLimitDefaults(&s.Instagram, 25, 3600, 4)

	if s.YouTube.QuotaDailyLimit == 0 {
		s.YouTube.QuotaDailyLimit = 10000
	}
	if s.YouTube.QuotaUploadCost == 0 {
		s.YouTube.QuotaUploadCost = 1600
	}

	if s.Worker.PollIntervalSeconds == 0 {
		s.Worker.PollIntervalSeconds = 5
	}
	if s.Worker.MaxAttempts == 0 {
		s.Worker.MaxAttempts = 3
	}
	if s.Worker.RetryBackoffSeconds == 0 {
		s.Worker.RetryBackoffSeconds = 60
	}
	// The per-post lock must outlive the worst-case upload, container
	// processing polling included.
	if s.Worker.LockDurationSeconds == 0 {
		s.Worker.LockDurationSeconds = 1800
	}
	if s.Worker.RefreshLockTTLSeconds == 0 {
		s.Worker.RefreshLockTTLSeconds = 30
	}

	// Token encryption key fallback: CRYPTO_KEY provides version 1.
	if len(C.Crypto.Keys) == 0 {
		if v := os.Getenv("CRYPTO_KEY"); v != "" {
			C.Crypto.Keys = map[string]string{"1": v}
			C.Crypto.CurrentVersion = 1
		}
	}
	if C.Crypto.CurrentVersion == 0 && len(C.Crypto.Keys) > 0 {
		C.Crypto.CurrentVersion = 1
	}
}

func applyLimitDefaults(p *PlatformConfig, rate, window, concurrency int) {
	if p.RateLimit == 0 {
		p.RateLimit = rate
	}
	if p.RateWindowSeconds == 0 {
		p.RateWindowSeconds = window
	}
	if p.Concurrency == 0 {
		p.Concurrency = concurrency
	}
}

// getConfigValue gets value from environment first, then config, then default.
func getConfigValue(configValue, envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if configValue != "" {
		return configValue
	}
	return defaultValue
}
