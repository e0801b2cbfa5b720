package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".seele"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for judge settings.
const envPrefix = "SEELE"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// LoadConfig loads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME. A missing config
// file is not an error; defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("work_mode", string(WorkModeBare))

	viperCfg.SetDefault("threads.runtime", DefaultRuntimeThreads)
	viperCfg.SetDefault("threads.worker", DefaultWorkerThreads)

	viperCfg.SetDefault("paths.root", DefaultRoot)
	viperCfg.SetDefault("paths.images", DefaultImagesDir)
	viperCfg.SetDefault("paths.submissions", DefaultSubmissionsDir)
	viperCfg.SetDefault("paths.evicted", DefaultEvictedDir)
	viperCfg.SetDefault("paths.temp", DefaultTempDir)
	viperCfg.SetDefault("paths.states", DefaultStatesDir)

	viperCfg.SetDefault("exchange.address", DefaultExchangeAddress)
	viperCfg.SetDefault("exchange.port", DefaultExchangePort)
	viperCfg.SetDefault("exchange.max_body_size_bytes", DefaultMaxBodySizeBytes)

	viperCfg.SetDefault("queues.composer_depth", DefaultComposerQueueDepth)
	viperCfg.SetDefault("queues.worker_depth", DefaultWorkerQueueDepth)

	viperCfg.SetDefault("eviction.submissions.interval", DefaultSubmissionEvictionInterval)
	viperCfg.SetDefault("eviction.submissions.ttl", DefaultSubmissionEvictionTTL)
	viperCfg.SetDefault("eviction.submissions.capacity", DefaultSubmissionEvictionCapacity)

	viperCfg.SetDefault("eviction.images.interval", DefaultImageEvictionInterval)
	viperCfg.SetDefault("eviction.images.ttl", DefaultImageEvictionTTL)
	viperCfg.SetDefault("eviction.images.capacity", DefaultImageEvictionCapacity)

	viperCfg.SetDefault("external_tools.image_copy_bin", DefaultImageCopyBin)
	viperCfg.SetDefault("external_tools.image_unpack_bin", DefaultImageUnpackBin)
	viperCfg.SetDefault("external_tools.runner_bin", DefaultRunnerBin)

	viperCfg.SetDefault("identity.subuid_start", DefaultSubIDStart)
	viperCfg.SetDefault("identity.subuid_count", DefaultSubIDCount)
	viperCfg.SetDefault("identity.subgid_start", DefaultSubIDStart)
	viperCfg.SetDefault("identity.subgid_count", DefaultSubIDCount)

	viperCfg.SetDefault("diagnostics.address", DefaultDiagnosticsAddress)
	viperCfg.SetDefault("diagnostics.port", DefaultDiagnosticsPort)
}
