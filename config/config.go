package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del monitor.
type Config struct {
	Monitor     MonitorConfig     `yaml:"monitor"`
	Anomaly     AnomalyConfig     `yaml:"anomaly"`
	MarketHours MarketHoursConfig `yaml:"market_hours"`
	MarketData  MarketDataConfig  `yaml:"market_data"`
	Storage     StorageConfig     `yaml:"storage"`
	Notify      NotifyConfig      `yaml:"notify"`
	Narrative   NarrativeConfig   `yaml:"narrative"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// MonitorConfig controla el loop y el motor de estados.
type MonitorConfig struct {
	IntervalSeconds   int     `yaml:"interval_seconds"`
	HeartbeatSeconds  int     `yaml:"heartbeat_seconds"`
	BatchSize         int     `yaml:"batch_size"`
	BatchDelayMS      int     `yaml:"batch_delay_ms"`
	EntryTolerancePct float64 `yaml:"entry_tolerance_pct"`
	StalePendingDays  int     `yaml:"stale_pending_days"`
	LimitEntry        string  `yaml:"limit_entry"` // withhold | on_touch
	CooldownMinutes   int     `yaml:"cooldown_minutes"`
}

// AnomalyConfig son los umbrales iniciales. Si ThresholdsFile está definido,
// sus valores sobreescriben estos y se recargan en caliente.
type AnomalyConfig struct {
	PriceChangePct   float64 `yaml:"price_change_pct"`
	VolumeMultiplier float64 `yaml:"volume_multiplier"`
	ThresholdsFile   string  `yaml:"thresholds_file"`
}

// MarketHoursConfig describe el calendario de la bolsa.
type MarketHoursConfig struct {
	Enabled  bool                `yaml:"enabled"` // false = siempre abierto
	Timezone string              `yaml:"timezone"`
	Sessions map[string][]string `yaml:"sessions"`
	Holidays []string            `yaml:"holidays"`
}

// MarketDataConfig apunta al proveedor de cotizaciones.
type MarketDataConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKey         string  `yaml:"api_key"`
	RatePerSec     float64 `yaml:"rate_per_sec"`
	Concurrency    int     `yaml:"concurrency"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// NotifyConfig controla los canales de notificación.
type NotifyConfig struct {
	Console      bool    `yaml:"console"`
	WebhookURL   string  `yaml:"webhook_url"`
	WebhookField string  `yaml:"webhook_field"` // text | content
	RatePerSec   float64 `yaml:"rate_per_sec"`
}

// NarrativeConfig configura el enriquecedor de anomalías. URL vacía = desactivado.
type NarrativeConfig struct {
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	Attempts         int    `yaml:"attempts"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`    // todos los intentos juntos
	RequestTimeoutMS int    `yaml:"request_timeout_ms"` // cada intento
	BackoffMS        int    `yaml:"backoff_ms"`
	MaxChars         int    `yaml:"max_chars"`
}

// ServerConfig controla la superficie HTTP. Addr vacío = sin servidor.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Interval devuelve el intervalo entre ticks.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Monitor.IntervalSeconds) * time.Second
}

// Heartbeat devuelve el intervalo del heartbeat.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Monitor.HeartbeatSeconds) * time.Second
}

// BatchDelay devuelve la pausa entre batches de cotizaciones.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Monitor.BatchDelayMS) * time.Millisecond
}

// Cooldown devuelve la ventana de supresión de anomalías por ticker.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Monitor.CooldownMinutes) * time.Minute
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"POSMON_DB", &cfg.Storage.DSN},
		{"MARKETDATA_BASE_URL", &cfg.MarketData.BaseURL},
		{"MARKETDATA_API_KEY", &cfg.MarketData.APIKey},
		{"NOTIFY_WEBHOOK_URL", &cfg.Notify.WebhookURL},
		{"NARRATIVE_URL", &cfg.Narrative.URL},
		{"NARRATIVE_API_KEY", &cfg.Narrative.APIKey},
		{"POSMON_ADDR", &cfg.Server.Addr},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Monitor.IntervalSeconds <= 0 {
		cfg.Monitor.IntervalSeconds = 15
	}
	if cfg.Monitor.HeartbeatSeconds <= 0 {
		cfg.Monitor.HeartbeatSeconds = 1
	}
	if cfg.Monitor.BatchSize <= 0 {
		cfg.Monitor.BatchSize = 5
	}
	if cfg.Monitor.BatchDelayMS < 0 {
		cfg.Monitor.BatchDelayMS = 0
	}
	if cfg.Monitor.EntryTolerancePct <= 0 {
		cfg.Monitor.EntryTolerancePct = 0.5
	}
	if cfg.Monitor.StalePendingDays <= 0 {
		cfg.Monitor.StalePendingDays = 3
	}
	if cfg.Monitor.LimitEntry == "" {
		cfg.Monitor.LimitEntry = "withhold"
	}
	if cfg.Monitor.CooldownMinutes <= 0 {
		cfg.Monitor.CooldownMinutes = 60
	}
	if cfg.Anomaly.PriceChangePct == 0 {
		cfg.Anomaly.PriceChangePct = 5
	}
	if cfg.Anomaly.VolumeMultiplier == 0 {
		cfg.Anomaly.VolumeMultiplier = 3
	}
	if cfg.MarketHours.Timezone == "" {
		cfg.MarketHours.Timezone = "Asia/Jakarta"
	}
	if cfg.MarketData.RatePerSec <= 0 {
		cfg.MarketData.RatePerSec = 5
	}
	if cfg.MarketData.Concurrency <= 0 {
		cfg.MarketData.Concurrency = 5
	}
	if cfg.MarketData.TimeoutSeconds <= 0 {
		cfg.MarketData.TimeoutSeconds = 10
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "posmon.db"
	}
	if cfg.Notify.WebhookField == "" {
		cfg.Notify.WebhookField = "text"
	}
	if cfg.Notify.RatePerSec <= 0 {
		cfg.Notify.RatePerSec = 1
	}
	if cfg.Narrative.Attempts <= 0 {
		cfg.Narrative.Attempts = 3
	}
	if cfg.Narrative.TimeoutSeconds <= 0 {
		cfg.Narrative.TimeoutSeconds = 5
	}
	if cfg.Narrative.RequestTimeoutMS <= 0 {
		cfg.Narrative.RequestTimeoutMS = 2000
	}
	if cfg.Narrative.BackoffMS <= 0 {
		cfg.Narrative.BackoffMS = 200
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Monitor.LimitEntry {
	case "withhold", "on_touch":
	default:
		return fmt.Errorf("monitor.limit_entry: unknown policy %q (want withhold|on_touch)", c.Monitor.LimitEntry)
	}
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market_data.base_url is required")
	}
	if c.Anomaly.PriceChangePct < 0 || c.Anomaly.VolumeMultiplier < 0 {
		return fmt.Errorf("anomaly thresholds must be >= 0")
	}
	return nil
}
