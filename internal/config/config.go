// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	InstanceID              string `yaml:"instance_id" env:"INSTANCE_ID"`
	RedisConnection         `yaml:"redis_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	RabbitMQ                `yaml:"rabbitmq"`
	Session                 `yaml:"session"`
	Routes                  `yaml:"routes"`
	CORS                    `yaml:"cors"`
	Scheduler               `yaml:"scheduler"`
	SMTP                    `yaml:"smtp"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env-default:"localhost:6379"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// JWTToken структура для работы с jwt-токеном сессии
type JWTToken struct {
	JWTSecretKey  string        `yaml:"jwt_secret_key" env:"JWT_SECRET_KEY"`
	TokenTTL      time.Duration `yaml:"token_ttl" env-default:"1h"`
	RefreshWindow time.Duration `yaml:"refresh_window" env-default:"5m"`
}

// RabbitMQ структура для подключения к брокеру
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
}

// Session настройки браузерных сессий и резолвера профиля
type Session struct {
	CookieName    string        `yaml:"cookie_name" env-default:"dm_sid"`
	CookieSecure  bool          `yaml:"cookie_secure"`
	IdleTTL       time.Duration `yaml:"idle_ttl" env-default:"30m"`
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1m"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" env-default:"10s"`
	PendingWait   time.Duration `yaml:"pending_wait" env-default:"2s"`
}

// Routes пути, на которые перенаправляет guard
type Routes struct {
	SignIn        string `yaml:"sign_in" env-default:"/auth"`
	MemberArea    string `yaml:"member_area" env-default:"/dashboard"`
	PlanSelection string `yaml:"plan_selection" env-default:"/select-plan"`
	AdminArea     string `yaml:"admin_area" env-default:"/admin"`
}

// CORS разрешённые источники браузерных запросов
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins" env-separator:","`
}

// Scheduler расписания фоновых задач
type Scheduler struct {
	ExpireSpec      string `yaml:"expire_spec" env-default:"@every 1h"`
	AlertsSpec      string `yaml:"alerts_spec" env-default:"0 8 * * *"`
	AlertWindowDays int    `yaml:"alert_window_days" env-default:"30"`
}

// SMTP настройки почтового транспорта
type SMTP struct {
	SMTPHost string `yaml:"host" env:"SMTP_HOST"`
	SMTPPort string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	SMTPUser string `yaml:"user" env:"SMTP_USER"`
	SMTPPass string `yaml:"password" env:"SMTP_PASSWORD"`
}

// MustLoad функция для загрузки конфига, возвращает конфиг, сгенерированный из файла CONFIG_PATH
func MustLoad() *Config {
	// .env нужен только локально, его отсутствие не ошибка
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load читает конфиг по указанному пути
func Load(configPath string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: cannot read config: %w", op, err)
	}
	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("%s: jwt_secret_key is required", op)
	}
	return &cfg, nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"JWTToken:\n"+
			"  TokenTTL: %s\n"+
			"Session:\n"+
			"  IdleTTL: %s\n"+
			"  FetchTimeout: %s\n"+
			"  PendingWait: %s\n",
		c.Env,
		c.AddressRedis,
		c.DB,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.TokenTTL,
		c.IdleTTL,
		c.FetchTimeout,
		c.PendingWait,
	)
}
