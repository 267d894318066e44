// Package config loads jobmatch settings from a YAML file, JOBMATCH_*
// environment variables and defaults, and validates them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/spigell/jobmatch/internal/apply"
	"github.com/spigell/jobmatch/internal/embedding"
	"github.com/spigell/jobmatch/internal/filtering"
	"github.com/spigell/jobmatch/internal/jobs"
	"github.com/spigell/jobmatch/internal/ranking"
	"github.com/spigell/jobmatch/internal/scheduler"
	"github.com/spigell/jobmatch/internal/secrets"
	"github.com/spigell/jobmatch/internal/sources"
	"github.com/spigell/jobmatch/internal/store"
)

const (
	App       = "jobmatch"
	EnvPrefix = "JOBMATCH"
)

type Config struct {
	Debug bool `mapstructure:"debug"`
	JSON  bool `mapstructure:"json"`

	Matching  ranking.Config           `mapstructure:"matching"`
	Quality   filtering.Config         `mapstructure:"quality"`
	Filters   FiltersConfig            `mapstructure:"filters"`
	Embedding embedding.Config         `mapstructure:"embedding"`
	Apply     ApplyConfig              `mapstructure:"apply"`
	Sources   []SourceConfig           `mapstructure:"sources" validate:"dive"`
	Storage   StorageConfig            `mapstructure:"storage"`
	Redis     RedisConfig              `mapstructure:"redis"`
	Schedule  ScheduleConfig           `mapstructure:"schedule"`
	Gemini    GeminiConfig             `mapstructure:"gemini"`
	Applicant apply.Profile            `mapstructure:"applicant"`
	Users     map[string]apply.Profile `mapstructure:"applicants"`

	// Preferences personalize matching per user id.
	Preferences map[string]ranking.Preferences `mapstructure:"preferences"`
}

type FiltersConfig struct {
	RedFlags          []string `mapstructure:"red-flags"`
	ExcludedCompanies []string `mapstructure:"excluded-companies"`
}

type ApplyConfig struct {
	LimitPerDay int               `mapstructure:"limit-per-day" validate:"gte=1"`
	BatchDelay  time.Duration     `mapstructure:"batch-delay" validate:"gte=0"`
	Endpoints   map[string]string `mapstructure:"endpoints" validate:"dive,keys,oneof=linkedin_easy indeed_api company_direct,endkeys,omitempty,url"`
	Token       string            `mapstructure:"token"`
	TokenFile   string            `mapstructure:"token-file"`
}

type SourceConfig struct {
	ID       string   `mapstructure:"id" validate:"required"`
	Kind     string   `mapstructure:"kind" validate:"required,oneof=search_api social career_site feed"`
	Active   *bool    `mapstructure:"active"`
	URL      string   `mapstructure:"url" validate:"required_unless=Kind feed,omitempty,url"`
	Token    string   `mapstructure:"token"`
	TokenEnv string   `mapstructure:"token-env"`
	Company  string   `mapstructure:"company"`
	Hashtags []string `mapstructure:"hashtags"`
	// Selectors override the career page defaults field by field.
	Selectors sources.Selectors `mapstructure:"selectors"`
	Capacity  int               `mapstructure:"capacity" validate:"gte=0"`

	RateLimitPerWindow int           `mapstructure:"rate-limit-per-window" validate:"gte=0"`
	Window             time.Duration `mapstructure:"window" validate:"gte=0"`
	Burst              int           `mapstructure:"burst" validate:"gte=0"`
	Timeout            time.Duration `mapstructure:"timeout" validate:"gte=0"`
	MaxPages           int           `mapstructure:"max-pages" validate:"gte=0"`
	PerPage            int           `mapstructure:"per-page" validate:"gte=0"`
}

type StorageConfig struct {
	Driver  string `mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn-file"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type ScheduleConfig struct {
	Spec        string        `mapstructure:"spec"`
	ExpireAfter time.Duration `mapstructure:"expire-after" validate:"gte=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
	RunOnStart  bool          `mapstructure:"run-on-start"`
	Keywords    []string      `mapstructure:"keywords"`
	Location    string        `mapstructure:"location"`
	// Listen is the address of the webhook feed server. Empty disables it.
	Listen string `mapstructure:"listen"`
}

type GeminiConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	APIKey        string        `mapstructure:"api-key"`
	APIKeyFile    string        `mapstructure:"api-key-file"`
	Model         string        `mapstructure:"model"`
	MaxRetries    int           `mapstructure:"max-retries" validate:"gte=0"`
	MaxLogLength  int           `mapstructure:"max-log-length" validate:"gte=0"`
	Enrich        bool          `mapstructure:"enrich"`
	EnrichTimeout time.Duration `mapstructure:"enrich-timeout" validate:"gte=0"`
}

// SetDefaults registers every default on v. Keys with a default can also be
// set through JOBMATCH_* variables.
func SetDefaults(v *viper.Viper) {
	m := ranking.DefaultConfig()
	v.SetDefault("debug", false)
	v.SetDefault("json", false)

	v.SetDefault("matching.similarity-threshold", m.SimilarityThreshold)
	v.SetDefault("matching.metric", m.Metric)
	v.SetDefault("matching.limit", m.Limit)
	v.SetDefault("matching.cluster-min-results", m.ClusterMinResults)
	v.SetDefault("matching.seed", m.Seed)

	q := filtering.DefaultConfig()
	v.SetDefault("quality.floor", q.QualityFloor)
	v.SetDefault("quality.duplicate-threshold", q.DuplicateThreshold)
	v.SetDefault("quality.min-description-words", q.MinDescriptionWords)
	v.SetDefault("filters.red-flags", []string{})
	v.SetDefault("filters.excluded-companies", []string{})

	e := embedding.DefaultConfig()
	v.SetDefault("embedding.calls-per-minute", e.CallsPerMinute)
	v.SetDefault("embedding.min-spacing", e.MinSpacing)
	v.SetDefault("embedding.max-queue", e.MaxQueue)
	v.SetDefault("embedding.wait-timeout", e.WaitTimeout)
	v.SetDefault("embedding.cache-ttl", e.CacheTTL)

	a := apply.DefaultConfig()
	v.SetDefault("apply.limit-per-day", a.LimitPerDay)
	v.SetDefault("apply.batch-delay", a.BatchDelay)
	v.SetDefault("apply.token", "")
	v.SetDefault("apply.token-file", "")

	v.SetDefault("storage.driver", store.DriverSQLite)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.dsn-file", "")
	v.SetDefault("redis.url", "")

	v.SetDefault("schedule.spec", scheduler.DefaultSpec)
	v.SetDefault("schedule.expire-after", 30*24*time.Hour)
	v.SetDefault("schedule.timeout", 30*time.Minute)
	v.SetDefault("schedule.run-on-start", true)
	v.SetDefault("schedule.keywords", []string{})
	v.SetDefault("schedule.location", "")
	v.SetDefault("schedule.listen", "")

	v.SetDefault("gemini.enabled", false)
	v.SetDefault("gemini.api-key", "")
	v.SetDefault("gemini.api-key-file", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.max-retries", 3)
	v.SetDefault("gemini.max-log-length", 0)
	v.SetDefault("gemini.enrich", false)
	v.SetDefault("gemini.enrich-timeout", 20*time.Second)

	v.SetDefault("applicant.full-name", "")
	v.SetDefault("applicant.email", "")
	v.SetDefault("applicant.phone", "")
	v.SetDefault("applicant.resume-url", "")
	v.SetDefault("applicant.cover-letter", "")
}

// LoadDotEnv loads variables from the given .env files, or ./.env. Missing
// files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Prepare wires defaults, the env prefix and the config file lookup into v.
// An explicit file must exist; otherwise jobmatch.yaml in the working
// directory is optional.
func Prepare(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(App)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load prepares v and decodes a validated Config from it.
func Load(v *viper.Viper, file string) (*Config, error) {
	if err := Prepare(v, file); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Decode unmarshals and validates the settings already present in v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.ID] {
			return fmt.Errorf("invalid config: source %q is configured twice", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Filtering merges the quality settings with the exclusion lists.
func (c *Config) Filtering() *filtering.Config {
	f := c.Quality
	f.RedFlags = append([]string(nil), c.Filters.RedFlags...)
	f.ExcludedCompanies = append([]string(nil), c.Filters.ExcludedCompanies...)
	return &f
}

func (c *Config) ApplyConfig() apply.Config {
	return apply.Config{LimitPerDay: c.Apply.LimitPerDay, BatchDelay: c.Apply.BatchDelay}
}

func (c *Config) ApplyEndpoints() map[apply.Method]string {
	out := make(map[apply.Method]string, len(c.Apply.Endpoints))
	for k, v := range c.Apply.Endpoints {
		out[apply.Method(k)] = v
	}
	return out
}

func (c *Config) ApplyToken() secrets.Source {
	return secrets.Source{Name: "apply token", Value: c.Apply.Token, Env: EnvPrefix + "_APPLY_TOKEN", File: c.Apply.TokenFile}
}

// Profiles returns per-user applicant data with the top-level applicant as
// the fallback for everyone else.
func (c *Config) Profiles() apply.StaticProfiles {
	out := make(apply.StaticProfiles, len(c.Users)+1)
	if c.Applicant != (apply.Profile{}) {
		out[apply.AnyUser] = c.Applicant
	}
	for user, p := range c.Users {
		out[user] = p
	}
	return out
}

func (c *Config) StorageDSN() (string, error) {
	return secrets.Optional(secrets.Source{Name: "storage dsn", Value: c.Storage.DSN, File: c.Storage.DSNFile})
}

func (g GeminiConfig) KeySource() secrets.Source {
	return secrets.Source{Name: "gemini api key", Value: g.APIKey, Env: "GEMINI_API_KEY", File: g.APIKeyFile}
}

func (s SourceConfig) IsActive() bool {
	return s.Active == nil || *s.Active
}

func (s SourceConfig) TokenSource() secrets.Source {
	return secrets.Source{Name: s.ID + " token", Value: s.Token, Env: s.TokenEnv}
}

// Job is the registry form of s.
func (s SourceConfig) Job() jobs.SourceConfig {
	return jobs.SourceConfig{
		ID:                 s.ID,
		Kind:               jobs.SourceKind(s.Kind),
		RateLimitPerWindow: s.RateLimitPerWindow,
		Window:             s.Window,
		Burst:              s.Burst,
		IsActive:           s.IsActive(),
	}
}

func (s SourceConfig) Options() sources.Options {
	return sources.Options{Timeout: s.Timeout, MaxPages: s.MaxPages, PerPage: s.PerPage}
}

// CareerSelectors fills unset selectors with the defaults.
func (s SourceConfig) CareerSelectors() sources.Selectors {
	sel := sources.DefaultSelectors()
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	set(&sel.Item, s.Selectors.Item)
	set(&sel.Title, s.Selectors.Title)
	set(&sel.Location, s.Selectors.Location)
	set(&sel.Department, s.Selectors.Department)
	set(&sel.Link, s.Selectors.Link)
	set(&sel.Description, s.Selectors.Description)
	return sel
}
