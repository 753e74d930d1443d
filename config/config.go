// Package config manages the global job-orchestration configuration.
// Defaults are loaded from an embedded YAML file; the live config is stored
// in a single DB row and read/written via the ConfigStore interface.
package config

import (
	"context"
	_ "embed"
	"encoding/json"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed config.default.yaml
var defaultYAML []byte

// Data holds the serialisable global configuration (spec §6.5).
type Data struct {
	Port      int    `json:"port"       yaml:"port"`
	QueueURL  string `json:"queue_url"  yaml:"queue_url"`
	DBPath    string `json:"db_path"    yaml:"db_path"`
	MediaRoot string `json:"media_root" yaml:"media_root"`

	MinFreeSpaceGB int64 `json:"min_free_space_gb" yaml:"min_free_space_gb"`

	JWTSecret      string `json:"jwt_secret"       yaml:"jwt_secret"`
	AccessTokenTTL string `json:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL string `json:"refresh_token_ttl" yaml:"refresh_token_ttl"`

	AdminUsername string `json:"admin_username" yaml:"admin_username"`
	AdminPassword string `json:"admin_password" yaml:"admin_password"`

	DownloadConcurrency int `json:"download_concurrency" yaml:"download_concurrency"`
	DubbingConcurrency  int `json:"dubbing_concurrency"  yaml:"dubbing_concurrency"`
	MuxingConcurrency   int `json:"muxing_concurrency"   yaml:"muxing_concurrency"`

	DefaultTargetLang   string `json:"default_target_lang"   yaml:"default_target_lang"`
	DefaultContainer    string `json:"default_container"     yaml:"default_container"`
	DefaultFormatPreset string `json:"default_format_preset" yaml:"default_format_preset"`

	DuckingLevel      float64 `json:"ducking_level"       yaml:"ducking_level"`
	NormalizationLUFS float64 `json:"normalization_lufs"  yaml:"normalization_lufs"`

	AppEnv   string `json:"app_env"   yaml:"app_env"`
	LogLevel string `json:"log_level" yaml:"log_level"`

	ReconcileInterval       string `json:"reconcile_interval"        yaml:"reconcile_interval"`
	RetentionCompletedHours int    `json:"retention_completed_hours" yaml:"retention_completed_hours"`
	RetentionFailedDays     int    `json:"retention_failed_days"     yaml:"retention_failed_days"`

	VOTURL         string `json:"vot_url"           yaml:"vot_url"`
	YtdlpHealthURL string `json:"ytdlp_health_url"  yaml:"ytdlp_health_url"`
}

// ConfigStore is the persistence interface for the live config row.
// Implemented by store/postgres.DB; defined here to avoid circular imports.
type ConfigStore interface {
	GetConfig(ctx context.Context) (map[string]any, error)
	SetConfig(ctx context.Context, data map[string]any) error
}

// Global is a thread-safe, DB-backed wrapper around Data.
type Global struct {
	mu   sync.RWMutex
	data Data
	st   ConfigStore
}

// Load initialises Global from the DB.
// If the DB row is empty/missing, the embedded default YAML is seeded.
func Load(ctx context.Context, st ConfigStore) (*Global, error) {
	g := &Global{st: st, data: defaults()}

	raw, err := st.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	if len(raw) == 0 {
		if err := g.persistDefaults(ctx); err != nil {
			return nil, err
		}
		return g, nil
	}

	// Re-serialise the map → JSON → Data so we benefit from json tags.
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &g.data); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Global) persistDefaults(ctx context.Context) error {
	b, err := json.Marshal(g.data)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	return g.st.SetConfig(ctx, m)
}

// defaults returns the built-in configuration by parsing the embedded YAML.
func defaults() Data {
	var d Data
	_ = yaml.Unmarshal(defaultYAML, &d)
	return d
}

// Get returns a thread-safe copy of the current configuration.
func (g *Global) Get() Data {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data
}

// Set replaces the configuration and persists it to the DB.
func (g *Global) Set(ctx context.Context, d Data) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if err := g.st.SetConfig(ctx, m); err != nil {
		return err
	}
	g.mu.Lock()
	g.data = d
	g.mu.Unlock()
	return nil
}
