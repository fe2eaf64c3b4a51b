package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultSourceURL is the toll data archive published for the IBM data engineering labs.
const DefaultSourceURL = "https://cf-courses-data.s3.us.cloud-object-storage.appdomain.cloud/IBM-DB0250EN-SkillsNetwork/labs/Final%20Assignment/tolldata.tgz"

// Config holds the full application configuration.
type Config struct {
	Source       SourceConfig       `yaml:"source" mapstructure:"source"`
	Paths        PathsConfig        `yaml:"paths" mapstructure:"paths"`
	Fetch        FetchConfig        `yaml:"fetch" mapstructure:"fetch"`
	Extract      ExtractConfig      `yaml:"extract" mapstructure:"extract"`
	Consolidate  ConsolidateConfig  `yaml:"consolidate" mapstructure:"consolidate"`
	Transform    TransformConfig    `yaml:"transform" mapstructure:"transform"`
	Export       ExportConfig       `yaml:"export" mapstructure:"export"`
	Load         LoadConfig         `yaml:"load" mapstructure:"load"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" mapstructure:"orchestrator"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Notify       NotifyConfig       `yaml:"notify" mapstructure:"notify"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// SourceConfig locates the upstream archive.
type SourceConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	ArchiveName string `yaml:"archive_name" mapstructure:"archive_name"`
}

// PathsConfig describes the on-disk layout. Relative directories resolve
// against WorkDir.
type PathsConfig struct {
	WorkDir        string `yaml:"work_dir" mapstructure:"work_dir"`
	RawDir         string `yaml:"raw_dir" mapstructure:"raw_dir"`
	ExtractedDir   string `yaml:"extracted_dir" mapstructure:"extracted_dir"`
	TransformedDir string `yaml:"transformed_dir" mapstructure:"transformed_dir"`
	VehicleFile    string `yaml:"vehicle_file" mapstructure:"vehicle_file"`
	PlazaFile      string `yaml:"plaza_file" mapstructure:"plaza_file"`
	PaymentFile    string `yaml:"payment_file" mapstructure:"payment_file"`
}

// FetchConfig configures the archive download.
type FetchConfig struct {
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ExtractConfig controls how malformed raw lines are treated.
type ExtractConfig struct {
	Strict bool `yaml:"strict" mapstructure:"strict"`
}

// ConsolidateConfig selects the row-count mismatch policy: error, truncate or pad.
type ConsolidateConfig struct {
	Mismatch string `yaml:"mismatch" mapstructure:"mismatch"`
}

// TransformConfig configures the final table.
type TransformConfig struct {
	IndexColumn bool `yaml:"index_column" mapstructure:"index_column"`
}

// ExportConfig configures the optional XLSX rendition.
type ExportConfig struct {
	XLSX      bool   `yaml:"xlsx" mapstructure:"xlsx"`
	SheetName string `yaml:"sheet_name" mapstructure:"sheet_name"`
}

// LoadConfig configures the optional Postgres load.
type LoadConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// OrchestratorConfig configures the Temporal worker, workflow and schedule.
type OrchestratorConfig struct {
	HostPort        string `yaml:"host_port" mapstructure:"host_port"`
	Namespace       string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue       string `yaml:"task_queue" mapstructure:"task_queue"`
	WorkflowID      string `yaml:"workflow_id" mapstructure:"workflow_id"`
	ScheduleID      string `yaml:"schedule_id" mapstructure:"schedule_id"`
	Cron            string `yaml:"cron" mapstructure:"cron"`
	Retries         int    `yaml:"retries" mapstructure:"retries"`
	RetryDelaySecs  int    `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	StepTimeoutSecs int    `yaml:"step_timeout_secs" mapstructure:"step_timeout_secs"`
}

// StoreConfig configures the run log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// NotifyConfig configures failure alerts.
type NotifyConfig struct {
	WebhookURL   string `yaml:"webhook_url" mapstructure:"webhook_url"`
	AlertOnDrops bool   `yaml:"alert_on_drops" mapstructure:"alert_on_drops"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TOLLDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.url", DefaultSourceURL)
	v.SetDefault("source.archive_name", "tolldata.tgz")
	v.SetDefault("paths.work_dir", ".")
	v.SetDefault("paths.raw_dir", "raw_data")
	v.SetDefault("paths.extracted_dir", "extracted_data")
	v.SetDefault("paths.transformed_dir", "transformed_data")
	v.SetDefault("paths.vehicle_file", "vehicle-data.csv")
	v.SetDefault("paths.plaza_file", "tollplaza-data.tsv")
	v.SetDefault("paths.payment_file", "payment-data.txt")
	v.SetDefault("fetch.user_agent", "tolldata-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.max_attempts", 1)
	v.SetDefault("fetch.requests_per_second", 1.0)
	v.SetDefault("extract.strict", false)
	v.SetDefault("consolidate.mismatch", "error")
	v.SetDefault("transform.index_column", false)
	v.SetDefault("export.xlsx", false)
	v.SetDefault("export.sheet_name", "transformed_data")
	v.SetDefault("load.enabled", false)
	v.SetDefault("load.database_url", "")
	v.SetDefault("load.table", "toll_data.transformed")
	v.SetDefault("orchestrator.host_port", "localhost:7233")
	v.SetDefault("orchestrator.namespace", "default")
	v.SetDefault("orchestrator.task_queue", "etl-toll-data")
	v.SetDefault("orchestrator.workflow_id", "etl_toll_data")
	v.SetDefault("orchestrator.schedule_id", "etl_toll_data")
	v.SetDefault("orchestrator.cron", "* * * * *")
	v.SetDefault("orchestrator.retries", 1)
	v.SetDefault("orchestrator.retry_delay_secs", 300)
	v.SetDefault("orchestrator.step_timeout_secs", 600)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tolldata.db")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.alert_on_drops", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the settings required by mode are present and sane.
// Modes: pipeline, load, orchestrator, serve.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "pipeline":
		errs = append(errs, c.validatePipeline()...)
	case "load":
		errs = append(errs, c.validatePipeline()...)
		if c.Load.DatabaseURL == "" {
			errs = append(errs, "load.database_url is required")
		}
		if c.Load.Table == "" {
			errs = append(errs, "load.table is required")
		}
	case "orchestrator":
		errs = append(errs, c.validatePipeline()...)
		if c.Orchestrator.HostPort == "" {
			errs = append(errs, "orchestrator.host_port is required")
		}
		if c.Orchestrator.TaskQueue == "" {
			errs = append(errs, "orchestrator.task_queue is required")
		}
		if c.Orchestrator.Retries < 0 {
			errs = append(errs, "orchestrator.retries must be >= 0")
		}
		if c.Orchestrator.RetryDelaySecs <= 0 {
			errs = append(errs, "orchestrator.retry_delay_secs must be > 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if c.Source.URL == "" {
		errs = append(errs, "source.url is required")
	}
	if c.Source.ArchiveName == "" {
		errs = append(errs, "source.archive_name is required")
	}
	switch c.Consolidate.Mismatch {
	case "error", "truncate", "pad":
	default:
		errs = append(errs, fmt.Sprintf("consolidate.mismatch must be one of error, truncate, pad (got %q)", c.Consolidate.Mismatch))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, "fetch.max_attempts must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
