package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config centraliza a configuração carregada do ambiente.
type Config struct {
	Port              int
	DBDSN             string
	RedisURL          string
	JWTAccessTTL      time.Duration
	JWTSecret         string
	AllowOrigins      []string
	RateLimitPublic   RateLimitConfig
	RateLimitAuth     RateLimitConfig
	RateLimitEmpresa  RateLimitConfig
	Sefaz             SefazConfig
	LockTTL           time.Duration
	MunicipioCacheTTL time.Duration
	Storage           StorageConfig
	SlackWebhookURL   string
	RabbitMQ          RabbitMQConfig
	Monitor           MonitorConfig
}

// RateLimitConfig representa limites simples para throttling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// SefazConfig descreve o gateway fiscal externo.
type SefazConfig struct {
	BaseURL      string
	Token        string
	Timeout      time.Duration
	EnvioTimeout time.Duration
}

// StorageConfig seleciona onde XML/PDF retornados são guardados.
type StorageConfig struct {
	Provider    string
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// MonitorConfig controla a verificação periódica do serviço fiscal por UF.
type MonitorConfig struct {
	Enabled          bool
	Interval         time.Duration
	UFs              []string
	LatencyWarning   time.Duration
	LatencyCritical  time.Duration
	FailureThreshold int
}

// Load carrega variáveis de ambiente e aplica defaults seguros.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	portStr := getEnv("PORT", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, errors.New("PORT inválida")
	}
	cfg.Port = port

	cfg.DBDSN = getEnv("DB_DSN", "")
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN obrigatório")
	}

	cfg.RedisURL = getEnv("REDIS_URL", "")
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL obrigatório")
	}

	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", ""))
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET deve ter pelo menos 32 caracteres")
	}

	accessTTL, err := parseDurationEnv("JWT_ACCESS_TTL", 12*time.Hour)
	if err != nil {
		return nil, err
	}
	cfg.JWTAccessTTL = accessTTL

	allowOrigins := strings.Split(getEnv("ALLOW_ORIGINS", ""), ",")
	cfg.AllowOrigins = nil
	for _, origin := range allowOrigins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.AllowOrigins = append(cfg.AllowOrigins, origin)
		}
	}

	cfg.RateLimitPublic = RateLimitConfig{RequestsPerSecond: 5, Burst: 10}
	cfg.RateLimitAuth = RateLimitConfig{RequestsPerSecond: 10, Burst: 40}
	// chamadas fiscais por empresa; a SEFAZ bloqueia consumo indevido
	cfg.RateLimitEmpresa = RateLimitConfig{RequestsPerSecond: 2, Burst: 10}

	// URL e token do gateway podem faltar no boot; o cliente responde INTERNAL_ERROR por chamada.
	cfg.Sefaz.BaseURL = strings.TrimSpace(getEnv("SEFAZ_API_URL", ""))
	cfg.Sefaz.Token = strings.TrimSpace(getEnv("SEFAZ_API_TOKEN", ""))
	if cfg.Sefaz.Timeout, err = parseDurationEnv("SEFAZ_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Sefaz.EnvioTimeout, err = parseDurationEnv("SEFAZ_ENVIO_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	if cfg.LockTTL, err = parseDurationEnv("MDFE_LOCK_TTL", 90*time.Second); err != nil {
		return nil, err
	}
	if cfg.LockTTL <= cfg.Sefaz.EnvioTimeout {
		return nil, errors.New("MDFE_LOCK_TTL deve ser maior que SEFAZ_ENVIO_TIMEOUT")
	}

	if cfg.MunicipioCacheTTL, err = parseDurationEnv("MUNICIPIO_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.Storage = StorageConfig{
		Provider:    strings.ToLower(strings.TrimSpace(getEnv("STORAGE_PROVIDER", "noop"))),
		S3Endpoint:  strings.TrimSpace(getEnv("STORAGE_S3_ENDPOINT", "")),
		S3Region:    strings.TrimSpace(getEnv("STORAGE_S3_REGION", "auto")),
		S3Bucket:    strings.TrimSpace(getEnv("STORAGE_S3_BUCKET", "")),
		S3AccessKey: strings.TrimSpace(getEnv("STORAGE_S3_ACCESS_KEY", "")),
		S3SecretKey: strings.TrimSpace(getEnv("STORAGE_S3_SECRET_KEY", "")),
		S3PublicURL: strings.TrimSpace(getEnv("STORAGE_S3_PUBLIC_URL", "")),
	}

	cfg.SlackWebhookURL = strings.TrimSpace(getEnv("SLACK_WEBHOOK_URL", ""))

	cfg.RabbitMQ = RabbitMQConfig{
		URL:      strings.TrimSpace(getEnv("RABBITMQ_URL", "")),
		Exchange: strings.TrimSpace(getEnv("RABBITMQ_EXCHANGE", "mdfe-eventos")),
	}
	if cfg.RabbitMQ.Exchange == "" {
		cfg.RabbitMQ.Exchange = "mdfe-eventos"
	}

	cfg.Monitor.Enabled = getEnv("MONITOR_ENABLED", "false") == "true"
	if cfg.Monitor.Interval, err = parseDurationEnv("MONITOR_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	for _, uf := range strings.Split(getEnv("MONITOR_UFS", "SP"), ",") {
		uf = strings.ToUpper(strings.TrimSpace(uf))
		if uf != "" {
			cfg.Monitor.UFs = append(cfg.Monitor.UFs, uf)
		}
	}
	if cfg.Monitor.LatencyWarning, err = parseDurationEnv("MONITOR_LATENCY_WARNING", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Monitor.LatencyCritical, err = parseDurationEnv("MONITOR_LATENCY_CRITICAL", 15*time.Second); err != nil {
		return nil, err
	}
	threshold, err := strconv.Atoi(getEnv("MONITOR_FAILURE_THRESHOLD", "3"))
	if err != nil || threshold <= 0 {
		return nil, errors.New("MONITOR_FAILURE_THRESHOLD inválido")
	}
	cfg.Monitor.FailureThreshold = threshold

	return cfg, nil
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := getEnv(key, "")
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.New(key + " inválido")
	}
	return dur, nil
}
