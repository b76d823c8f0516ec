// Package config loads the pipeline configuration from defaults, an optional
// YAML file and AIRQ_* environment variables.
package config

import (
	"errors"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/ingest"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/split"
)

// Feature sets selectable with features.set.
const (
	FeatureSetLegacy = "legacy"
	FeatureSetFull   = "full"
)

// Config is the complete pipeline configuration. It is passed explicitly to
// every entry point.
type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Source   SourceConfig   `mapstructure:"source"`
	Features FeaturesConfig `mapstructure:"features"`
	Split    SplitConfig    `mapstructure:"split"`
	Training TrainingConfig `mapstructure:"training"`
	Registry RegistryConfig `mapstructure:"registry"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type PathsConfig struct {
	RawDir      string `mapstructure:"raw_dir"`
	Processed   string `mapstructure:"processed"`
	Features    string `mapstructure:"features"`
	ModelsDir   string `mapstructure:"models_dir"`
	Predictions string `mapstructure:"predictions"`
	ReportsDir  string `mapstructure:"reports_dir"`
}

type SourceConfig struct {
	City        string        `mapstructure:"city"`
	Latitude    float64       `mapstructure:"latitude"`
	Longitude   float64       `mapstructure:"longitude"`
	Pollutant   string        `mapstructure:"pollutant"`
	StartDate   string        `mapstructure:"start_date"`
	EndDate     string        `mapstructure:"end_date"`
	Timezone    string        `mapstructure:"timezone"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type FeaturesConfig struct {
	Lags      []int   `mapstructure:"lags"`
	Windows   []int   `mapstructure:"windows"`
	EMASpans  []int   `mapstructure:"ema_spans"`
	Threshold float64 `mapstructure:"threshold"`
	// Set picks the model inputs: "legacy" (six columns) or "full".
	Set string `mapstructure:"set"`
	// Names overrides Set with an explicit ordering.
	Names []string `mapstructure:"names"`
}

type SplitConfig struct {
	TrainFraction float64 `mapstructure:"train_fraction"`
}

// TreeConfig is the per-model part of the boosting settings.
type TreeConfig struct {
	NEstimators int `mapstructure:"n_estimators"`
	MaxDepth    int `mapstructure:"max_depth"`
}

type TrainingConfig struct {
	LearningRate    float64    `mapstructure:"learning_rate"`
	Lambda          float64    `mapstructure:"lambda"`
	Gamma           float64    `mapstructure:"gamma"`
	MinChildWeight  float64    `mapstructure:"min_child_weight"`
	ColsampleByTree float64    `mapstructure:"colsample_bytree"`
	Seed            uint64     `mapstructure:"seed"`
	Baseline        bool       `mapstructure:"baseline"`
	Regressor       TreeConfig `mapstructure:"regressor"`
	Classifier      TreeConfig `mapstructure:"classifier"`
}

type RegistryConfig struct {
	// Path of the SQLite database; empty disables the registry.
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	// Textfile receives a Prometheus textfile export after training; empty disables it.
	Textfile string `mapstructure:"textfile"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	fc := features.DefaultConfig()
	tc := predictor.DefaultTrainConfig()

	v.SetDefault("paths.raw_dir", "data/raw")
	v.SetDefault("paths.processed", "data/processed/frankfurt_pm25.csv")
	v.SetDefault("paths.features", "data/processed/frankfurt_features.csv")
	v.SetDefault("paths.models_dir", "models")
	v.SetDefault("paths.predictions", "data/predictions.csv")
	v.SetDefault("paths.reports_dir", "reports")

	v.SetDefault("source.city", "Frankfurt")
	v.SetDefault("source.latitude", 50.1109)
	v.SetDefault("source.longitude", 8.6821)
	v.SetDefault("source.pollutant", string(model.PollutantPM25))
	v.SetDefault("source.start_date", "2024-01-01")
	v.SetDefault("source.end_date", "2025-12-20")
	v.SetDefault("source.timezone", "auto")
	v.SetDefault("source.base_url", ingest.DefaultOpenMeteoURL)
	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.max_attempts", 5)

	v.SetDefault("features.lags", fc.Lags)
	v.SetDefault("features.windows", fc.Windows)
	v.SetDefault("features.ema_spans", fc.EMASpans)
	v.SetDefault("features.threshold", fc.Threshold)
	v.SetDefault("features.set", FeatureSetLegacy)
	v.SetDefault("features.names", []string{})

	v.SetDefault("split.train_fraction", split.DefaultTrainFraction)

	v.SetDefault("training.learning_rate", tc.Regressor.LearningRate)
	v.SetDefault("training.lambda", tc.Regressor.Lambda)
	v.SetDefault("training.gamma", tc.Regressor.Gamma)
	v.SetDefault("training.min_child_weight", tc.Regressor.MinChildWeight)
	v.SetDefault("training.colsample_bytree", tc.Regressor.ColsampleByTree)
	v.SetDefault("training.seed", tc.Regressor.Seed)
	v.SetDefault("training.baseline", tc.Baseline)
	v.SetDefault("training.regressor.n_estimators", tc.Regressor.NEstimators)
	v.SetDefault("training.regressor.max_depth", tc.Regressor.MaxDepth)
	v.SetDefault("training.classifier.n_estimators", tc.Classifier.NEstimators)
	v.SetDefault("training.classifier.max_depth", tc.Classifier.MaxDepth)

	v.SetDefault("registry.path", "data/registry.db")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads configuration from configPath (or airq.yaml in . and ./configs
// when empty) and the environment. A missing default config file is not an
// error. Environment variables use the AIRQ prefix: AIRQ_SPLIT_TRAIN_FRACTION=0.7.
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("airq")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("AIRQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, model.ConfigErrorf("load config", "reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, model.ConfigErrorf("load config", "decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return model.ConfigErrorf("load env", "%s: %w", path, err)
	}
	return nil
}

// Validate checks ranges that would otherwise fail deep inside a stage.
func (c Config) Validate() error {
	f := c.Split.TrainFraction
	if math.IsNaN(f) || f <= 0 || f >= 1 {
		return model.ConfigErrorf("config", "split.train_fraction must be in (0, 1), got %v", f)
	}
	if err := c.FeatureConfig().Validate(); err != nil {
		return err
	}
	switch c.Features.Set {
	case FeatureSetLegacy, FeatureSetFull:
	default:
		return model.ConfigErrorf("config", "features.set must be %q or %q, got %q",
			FeatureSetLegacy, FeatureSetFull, c.Features.Set)
	}
	tc := c.TrainConfig()
	if err := tc.Regressor.Validate(); err != nil {
		return err
	}
	if err := tc.Classifier.Validate(); err != nil {
		return err
	}
	if !c.Pollutant().Known() {
		return model.ConfigErrorf("config", "unknown pollutant %q", c.Source.Pollutant)
	}
	return nil
}

// FeatureConfig returns the synthesizer settings.
func (c Config) FeatureConfig() features.Config {
	return features.Config{
		Lags:      c.Features.Lags,
		Windows:   c.Features.Windows,
		EMASpans:  c.Features.EMASpans,
		Threshold: c.Features.Threshold,
	}
}

// FeatureNames returns the model input ordering: the explicit names when
// set, otherwise the columns of the selected feature set.
func (c Config) FeatureNames() []string {
	switch {
	case len(c.Features.Names) > 0:
		return append([]string(nil), c.Features.Names...)
	case c.Features.Set == FeatureSetFull:
		return features.FullFeatureNames(c.FeatureConfig())
	default:
		return append([]string(nil), features.DefaultFeatureNames...)
	}
}

// TrainConfig returns the boosting settings for both models.
func (c Config) TrainConfig() predictor.TrainConfig {
	shared := predictor.Params{
		LearningRate:    c.Training.LearningRate,
		Lambda:          c.Training.Lambda,
		Gamma:           c.Training.Gamma,
		MinChildWeight:  c.Training.MinChildWeight,
		ColsampleByTree: c.Training.ColsampleByTree,
		Seed:            c.Training.Seed,
	}
	reg, cls := shared, shared
	reg.NEstimators, reg.MaxDepth = c.Training.Regressor.NEstimators, c.Training.Regressor.MaxDepth
	cls.NEstimators, cls.MaxDepth = c.Training.Classifier.NEstimators, c.Training.Classifier.MaxDepth
	return predictor.TrainConfig{
		Regressor:  reg,
		Classifier: cls,
		Threshold:  c.Features.Threshold,
		Baseline:   c.Training.Baseline,
	}
}

func (c Config) Pollutant() model.Pollutant {
	return model.Pollutant(c.Source.Pollutant)
}

// Query returns the Open-Meteo request for the configured source.
func (c Config) Query() ingest.Query {
	return ingest.Query{
		City:      c.Source.City,
		Latitude:  c.Source.Latitude,
		Longitude: c.Source.Longitude,
		Pollutant: c.Pollutant(),
		StartDate: c.Source.StartDate,
		EndDate:   c.Source.EndDate,
		Timezone:  c.Source.Timezone,
	}
}
