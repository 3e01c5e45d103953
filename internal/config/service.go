package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Service holds the settings of the HTTP service (csvmerge serve).
//
// They are read with viper from csvmerge.yaml, flags and CSVMERGE_*
// environment variables (CSVMERGE_STORAGE_DSN for storage.dsn).
type Service struct {
	Storage StorageSettings `mapstructure:"storage"`
	Blob    BlobSettings    `mapstructure:"blob"`
	HTTP    HTTPSettings    `mapstructure:"http"`
	Metrics MetricsSettings `mapstructure:"metrics"`
	Merge   MergeSettings   `mapstructure:"merge"`
}

type StorageSettings struct {
	Kind string `mapstructure:"kind"`
	DSN  string `mapstructure:"dsn"`
}

type BlobSettings struct {
	Dir      string `mapstructure:"dir"`
	MaxBytes int64  `mapstructure:"max_bytes"`
}

type HTTPSettings struct {
	Addr string `mapstructure:"addr"`
}

type MetricsSettings struct {
	Backend    string        `mapstructure:"backend"`
	Tags       string        `mapstructure:"tags"`
	FlushEvery time.Duration `mapstructure:"flush_every"`
}

type MergeSettings struct {
	Workers int `mapstructure:"workers"`
}

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "CSVMERGE"

// SetDefaults registers default values and environment binding on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("storage.kind", "sqlite")
	v.SetDefault("storage.dsn", "csvmerge.db")
	v.SetDefault("blob.dir", "data/blobs")
	v.SetDefault("blob.max_bytes", int64(100<<20))
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.tags", "")
	v.SetDefault("metrics.flush_every", "60s")
	v.SetDefault("merge.workers", 1)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadService unmarshals v into a Service, expands ${VAR} references in the
// DSN and checks the values.
func LoadService(v *viper.Viper) (Service, error) {
	var s Service
	if err := v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("failed to parse service config: %w", err)
	}
	s.Storage.DSN = os.ExpandEnv(s.Storage.DSN)

	switch {
	case s.Storage.Kind == "":
		return s, fmt.Errorf("storage.kind is required")
	case s.Storage.DSN == "":
		return s, fmt.Errorf("storage.dsn is required")
	case s.Blob.Dir == "":
		return s, fmt.Errorf("blob.dir is required")
	case s.HTTP.Addr == "":
		return s, fmt.Errorf("http.addr is required")
	case s.Merge.Workers < 0:
		return s, fmt.Errorf("merge.workers must be >= 0")
	}
	switch s.Metrics.Backend {
	case "", "none", "datadog":
	default:
		return s, fmt.Errorf("metrics.backend %q is not one of none, datadog", s.Metrics.Backend)
	}
	return s, nil
}
