// Package config loads and validates the judge's runtime configuration.
package config

import (
	"errors"
	"time"
)

// WorkMode selects how the worker pool expects the host to be set up, which
// in turn determines how containers are namespaced and how cgroup pinning
// behaves.
type WorkMode string

// Supported work modes, in increasing order of isolation.
const (
	WorkModeBare                   WorkMode = "bare"
	WorkModeBareSystemd            WorkMode = "bare_systemd"
	WorkModeContainerized          WorkMode = "containerized"
	WorkModeRootlessContainerized  WorkMode = "rootless_containerized"
)

// Config is the top-level configuration for the judge process.
type Config struct {
	WorkMode    WorkMode          `mapstructure:"work_mode"`
	Threads     ThreadsConfig     `mapstructure:"threads"`
	Paths       PathsConfig       `mapstructure:"paths"`
	Exchange    ExchangeConfig    `mapstructure:"exchange"`
	Queues      QueuesConfig      `mapstructure:"queues"`
	Eviction    EvictionConfig    `mapstructure:"eviction"`
	ExternalTools ExternalToolsConfig `mapstructure:"external_tools"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
}

// ThreadsConfig holds the thread counts. Worker sizes the worker pool and
// its CPU pin barrier; Runtime is validated but sizes nothing else.
type ThreadsConfig struct {
	Runtime int `mapstructure:"runtime"`
	Worker  int `mapstructure:"worker"`
}

// PathsConfig lists the directories the judge reads and writes under its
// root. All are created at startup if missing.
type PathsConfig struct {
	Root        string `mapstructure:"root"`
	Images      string `mapstructure:"images"`
	Submissions string `mapstructure:"submissions"`
	Evicted     string `mapstructure:"evicted"`
	Temp        string `mapstructure:"temp"`
	States      string `mapstructure:"states"`
}

// ExchangeConfig configures the HTTP ingress.
type ExchangeConfig struct {
	Address         string `mapstructure:"address"`
	Port            int    `mapstructure:"port"`
	MaxBodySizeBytes int64 `mapstructure:"max_body_size_bytes"`
}

// QueuesConfig sizes the bounded channels between the exchange, composer,
// and worker stages.
type QueuesConfig struct {
	ComposerDepth int `mapstructure:"composer_depth"`
	WorkerDepth   int `mapstructure:"worker_depth"`
}

// EvictionManagerConfig configures a single eviction manager instance.
type EvictionManagerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

// EvictionConfig groups the two eviction managers the judge runs: one over
// extracted submission working directories, one over unpacked OCI images.
type EvictionConfig struct {
	Submissions EvictionManagerConfig `mapstructure:"submissions"`
	Images      EvictionManagerConfig `mapstructure:"images"`
}

// ExternalToolsConfig names the binaries the judge shells out to for image
// transfer and unpacking.
type ExternalToolsConfig struct {
	ImageCopyBin   string `mapstructure:"image_copy_bin"`
	ImageUnpackBin string `mapstructure:"image_unpack_bin"`
	RunnerBin      string `mapstructure:"runner_bin"`
}

// IdentityConfig carries the subuid/subgid range used to build user
// namespace mappings for containerized work modes.
type IdentityConfig struct {
	SubUIDStart int `mapstructure:"subuid_start"`
	SubUIDCount int `mapstructure:"subuid_count"`
	SubGIDStart int `mapstructure:"subgid_start"`
	SubGIDCount int `mapstructure:"subgid_count"`
}

// DiagnosticsConfig configures the /healthz, /readyz, and /metrics HTTP
// surface, served on its own listener separate from the exchange.
type DiagnosticsConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// Sentinel validation errors.
var (
	ErrInvalidWorkMode       = errors.New("work_mode is not one of the supported values")
	ErrInvalidThreadCount    = errors.New("thread counts must be positive")
	ErrInvalidPort           = errors.New("exchange.port and diagnostics.port must be between 1 and 65535")
	ErrInvalidMaxBodySize    = errors.New("exchange.max_body_size_bytes must be positive")
	ErrInvalidQueueDepth     = errors.New("queue depths must be positive")
	ErrInvalidEvictionConfig = errors.New("eviction interval, ttl, and capacity must be positive")
	ErrInvalidSubIDRange     = errors.New("subuid/subgid count must be at least 65536 unless running rootless")
)

const (
	maxPort            = 65535
	minSubIDRangeSize  = 65536
)

// Validate checks Config invariants and returns the first violation found.
func (c *Config) Validate() error {
	switch c.WorkMode {
	case WorkModeBare, WorkModeBareSystemd, WorkModeContainerized, WorkModeRootlessContainerized:
	default:
		return ErrInvalidWorkMode
	}

	if c.Threads.Runtime <= 0 || c.Threads.Worker <= 0 {
		return ErrInvalidThreadCount
	}

	if c.Exchange.Port <= 0 || c.Exchange.Port > maxPort {
		return ErrInvalidPort
	}

	if c.Diagnostics.Port <= 0 || c.Diagnostics.Port > maxPort {
		return ErrInvalidPort
	}

	if c.Exchange.MaxBodySizeBytes <= 0 {
		return ErrInvalidMaxBodySize
	}

	if c.Queues.ComposerDepth <= 0 || c.Queues.WorkerDepth <= 0 {
		return ErrInvalidQueueDepth
	}

	if evictionErr := c.Eviction.Submissions.validate(); evictionErr != nil {
		return evictionErr
	}

	if evictionErr := c.Eviction.Images.validate(); evictionErr != nil {
		return evictionErr
	}

	if c.WorkMode != WorkModeRootlessContainerized {
		if c.Identity.SubUIDCount < minSubIDRangeSize || c.Identity.SubGIDCount < minSubIDRangeSize {
			return ErrInvalidSubIDRange
		}
	}

	return nil
}

func (e EvictionManagerConfig) validate() error {
	if e.Interval <= 0 || e.TTL <= 0 || e.Capacity <= 0 {
		return ErrInvalidEvictionConfig
	}

	return nil
}
