// Package config implements the §6 configuration table with layered
// precedence: explicit file, then environment, then the §6 defaults. It
// replaces the teacher's flat key=value config.go reader with
// github.com/spf13/viper, following lookatitude-beluga-ai's
// pkg/config/viper_provider.go construction (config name/paths, env
// prefix, automatic env binding with a "." -> "_" key replacer).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized option from §6.
type Config struct {
	MaxUploadBytes         int64
	OverlapSeconds         float64
	MaxConcurrentSlices    int
	RateLimitCapacity      int
	RateLimitRefillPerS    float64
	ScratchRoot            string
	MemoryCapMB            int
	RetentionHoursProgress int
	ProgressDir            string
	OutputDir              string
	OpenAIModel            string
	AdaptiveConcurrency    bool
}

const envPrefix = "HEARING_TRANSCRIBE"

func defaults(v *viper.Viper) {
	v.SetDefault("max_upload_bytes", 20*1024*1024)
	v.SetDefault("overlap_seconds", 30)
	v.SetDefault("max_concurrent_slices", 3)
	v.SetDefault("rate_limit_capacity", 20)
	v.SetDefault("rate_limit_refill_per_s", 20.0/60.0)
	v.SetDefault("scratch_root", "")
	v.SetDefault("memory_cap_mb", 200)
	v.SetDefault("retention_hours_progress", 24)
	v.SetDefault("progress_dir", "./progress")
	v.SetDefault("output_dir", "./transcripts")
	v.SetDefault("openai_model", "whisper-1")
	v.SetDefault("adaptive_concurrency", false)
}

// Load builds a Config from, in ascending precedence: the §6 defaults, an
// optional config file named configName found under configPaths, and
// environment variables prefixed HEARING_TRANSCRIBE_.
func Load(configName string, configPaths []string) (Config, error) {
	v := viper.New()
	defaults(v)

	if configName != "" {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		for _, p := range configPaths {
			v.AddConfigPath(p)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return Config{
		MaxUploadBytes:         v.GetInt64("max_upload_bytes"),
		OverlapSeconds:         v.GetFloat64("overlap_seconds"),
		MaxConcurrentSlices:    v.GetInt("max_concurrent_slices"),
		RateLimitCapacity:      v.GetInt("rate_limit_capacity"),
		RateLimitRefillPerS:    v.GetFloat64("rate_limit_refill_per_s"),
		ScratchRoot:            v.GetString("scratch_root"),
		MemoryCapMB:            v.GetInt("memory_cap_mb"),
		RetentionHoursProgress: v.GetInt("retention_hours_progress"),
		ProgressDir:            v.GetString("progress_dir"),
		OutputDir:              v.GetString("output_dir"),
		OpenAIModel:            v.GetString("openai_model"),
		AdaptiveConcurrency:    v.GetBool("adaptive_concurrency"),
	}, nil
}

// RetentionDuration returns RetentionHoursProgress as a time.Duration.
func (c Config) RetentionDuration() time.Duration {
	return time.Duration(c.RetentionHoursProgress) * time.Hour
}
