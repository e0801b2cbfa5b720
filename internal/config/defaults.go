package config

import "time"

// Thread pool defaults.
const (
	DefaultRuntimeThreads = 4
	DefaultWorkerThreads  = 4
)

// Filesystem layout defaults. DefaultRoot is absolute; the other
// directories are joined under paths.root.
const (
	DefaultRoot           = "/var/lib/seele"
	DefaultImagesDir      = "images"
	DefaultSubmissionsDir = "submissions"
	DefaultEvictedDir     = "evicted"
	DefaultTempDir        = "temp"
	DefaultStatesDir      = "states"
)

// HTTP exchange defaults.
const (
	DefaultExchangeAddress = "0.0.0.0"
	DefaultExchangePort    = 80
	DefaultMaxBodySizeBytes = 10 << 20 // 10 MiB.
)

// Queue depth defaults, matching the bounded backpressure described for the
// exchange-to-composer and composer-to-worker handoffs.
const (
	DefaultComposerQueueDepth = 16
	DefaultWorkerQueueDepth   = 16
)

// Eviction manager defaults.
const (
	DefaultSubmissionEvictionInterval = 30 * time.Second
	DefaultSubmissionEvictionTTL      = 30 * time.Minute
	DefaultSubmissionEvictionCapacity = 1024

	DefaultImageEvictionInterval = 5 * time.Minute
	DefaultImageEvictionTTL      = 24 * time.Hour
	DefaultImageEvictionCapacity = 64
)

// External tool defaults. These assume skopeo and umoci are installed on
// PATH; the runner binary is the sandboxed-execution helper invoked for
// every run_container action.
const (
	DefaultImageCopyBin   = "skopeo"
	DefaultImageUnpackBin = "umoci"
	DefaultRunnerBin      = "runj"
)

// Subordinate id range defaults, matching the conventional single-range
// allocation `useradd` creates in /etc/subuid and /etc/subgid.
const (
	DefaultSubIDStart = 100000
	DefaultSubIDCount = 65536
)

// Diagnostics server defaults: the /healthz, /readyz, and /metrics surface
// listens separately from the exchange so scrapers don't share a port with
// submission traffic.
const (
	DefaultDiagnosticsAddress = "0.0.0.0"
	DefaultDiagnosticsPort    = 9090
)
