package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/smallbiznis/cardreport/internal/report/alert"
	"github.com/smallbiznis/cardreport/internal/report/domain"
)

// ThresholdConfig is the alert thresholds file:
//
//	thresholds:
//	  weekly:  {level1: 30000, level2: 50000, level3: 100000}
//	  monthly: {level1: 100000, level2: 200000, level3: 300000}
type ThresholdConfig struct {
	Weekly  alert.Thresholds `mapstructure:"weekly"`
	Monthly alert.Thresholds `mapstructure:"monthly"`
}

func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		Weekly:  alert.Thresholds{Level1: 30_000, Level2: 50_000, Level3: 100_000},
		Monthly: alert.Thresholds{Level1: 100_000, Level2: 200_000, Level3: 300_000},
	}
}

// ThresholdHolder serves the current thresholds and swaps them when the file
// changes. It implements alert.Source.
type ThresholdHolder struct {
	current atomic.Value // holds ThresholdConfig
	log     *zap.Logger
}

// NewThresholdHolder reads thresholds.yml from file, or from the usual config
// directories when file is empty. A missing file yields the defaults.
func NewThresholdHolder(file string, log *zap.Logger) (*ThresholdHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("thresholds")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/cardreport")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CARDREPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultThresholdConfig()
	v.SetDefault("thresholds.weekly.level1", defaults.Weekly.Level1)
	v.SetDefault("thresholds.weekly.level2", defaults.Weekly.Level2)
	v.SetDefault("thresholds.weekly.level3", defaults.Weekly.Level3)
	v.SetDefault("thresholds.monthly.level1", defaults.Monthly.Level1)
	v.SetDefault("thresholds.monthly.level2", defaults.Monthly.Level2)
	v.SetDefault("thresholds.monthly.level3", defaults.Monthly.Level3)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read thresholds: %w", err)
		}
		watch = false
	}

	cfg, err := decodeThresholds(v)
	if err != nil {
		return nil, err
	}

	holder := &ThresholdHolder{log: log.Named("config.thresholds")}
	holder.current.Store(cfg)

	if watch {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeThresholds(v)
			if err != nil {
				holder.log.Warn("invalid thresholds ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			holder.log.Info("thresholds reloaded", zap.String("file", filepath.Base(e.Name)))
		})
		v.WatchConfig()
	}

	return holder, nil
}

// NewStaticThresholdHolder serves cfg without any file behind it.
func NewStaticThresholdHolder(cfg ThresholdConfig) *ThresholdHolder {
	holder := &ThresholdHolder{log: zap.NewNop()}
	holder.current.Store(cfg)
	return holder
}

func (h *ThresholdHolder) Get() ThresholdConfig {
	return h.current.Load().(ThresholdConfig)
}

// Thresholds implements alert.Source.
func (h *ThresholdHolder) Thresholds(g domain.Granularity) (alert.Thresholds, bool) {
	cfg := h.Get()
	switch g {
	case domain.GranularityWeekly:
		return cfg.Weekly, true
	case domain.GranularityMonthly:
		return cfg.Monthly, true
	default:
		return alert.Thresholds{}, false
	}
}

func decodeThresholds(v *viper.Viper) (ThresholdConfig, error) {
	// Unmarshal (not UnmarshalKey) so file values merge over per-key defaults.
	var file struct {
		Thresholds ThresholdConfig `mapstructure:"thresholds"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return ThresholdConfig{}, fmt.Errorf("decode thresholds: %w", err)
	}
	cfg := file.Thresholds
	if err := cfg.Weekly.Validate(); err != nil {
		return ThresholdConfig{}, fmt.Errorf("thresholds.weekly: %w", err)
	}
	if err := cfg.Monthly.Validate(); err != nil {
		return ThresholdConfig{}, fmt.Errorf("thresholds.monthly: %w", err)
	}
	return cfg, nil
}
