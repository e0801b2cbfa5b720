// Package runner assembles the runner-config document passed to the
// external container runner and invokes it.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/Candlest/seele/internal/config"
	"github.com/Candlest/seele/internal/image"
	"github.com/Candlest/seele/internal/submission"
)

const overlayDirMode = 0o777

// UserNamespace is the subuid/subgid mapping handed to the runner in
// non-rootless work modes.
type UserNamespace struct {
	RootUID     int `json:"root_uid"`
	RootGID     int `json:"root_gid"`
	UIDMapBegin int `json:"uid_map_begin"`
	UIDMapCount int `json:"uid_map_count"`
	GIDMapBegin int `json:"gid_map_begin"`
	GIDMapCount int `json:"gid_map_count"`
}

// Overlayfs is the three directories layered atop an image rootfs for one
// sandbox invocation.
type Overlayfs struct {
	LowerDir  string `json:"lower_dir"`
	UpperDir  string `json:"upper_dir"`
	WorkDir   string `json:"work_dir"`
	MergedDir string `json:"merged_dir"`
}

// FDConfig names the paths a sandboxed process's standard streams are
// redirected to or from.
type FDConfig struct {
	Stdin  string `json:"stdin,omitempty"`
	Stdout string `json:"stdout,omitempty"`
	Stderr string `json:"stderr,omitempty"`
}

// Mount is one bind or tmpfs mount translated into the runner's schema.
type Mount struct {
	Kind        string `json:"kind"`
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination"`
	ReadOnly    bool   `json:"read_only,omitempty"`
}

// Limits bounds the sandboxed process's resource consumption.
type Limits struct {
	CPUSeconds   float64 `json:"cpu_seconds,omitempty"`
	MemoryBytes  int64   `json:"memory_bytes,omitempty"`
	WallSeconds  float64 `json:"wall_seconds,omitempty"`
}

// Config is the bit-exact document handed to the external runner binary.
type Config struct {
	UserNamespace *UserNamespace `json:"user_namespace,omitempty"`
	Overlayfs     Overlayfs      `json:"overlayfs"`
	CgroupPath    string         `json:"cgroup_path"`
	Cwd           string         `json:"cwd"`
	Command       []string       `json:"command"`
	Paths         []string       `json:"paths"`
	FD            *FDConfig      `json:"fd,omitempty"`
	Mounts        []Mount        `json:"mounts"`
	Limits        Limits         `json:"limits"`
}

// BuildConfig assembles the runner-config document for a RunContainer-family
// task: it resolves and pins the task's image, allocates a fresh overlayfs
// triple under the submission root, translates stdio/mount parameters to
// absolute paths, and applies the work-mode-dependent user namespace and
// the judge's cgroup parent. It returns the unpacked image path alongside
// cfg so the caller can report it to the image eviction manager on success.
func BuildConfig(ctx context.Context, images *image.Cache, task submission.ActionTask, workMode config.WorkMode, identity config.IdentityConfig, containerSlicePath string) (*Config, string, error) {
	ref, err := imageRefFromParameters(task.Parameters)
	if err != nil {
		return nil, "", err
	}

	rootfs, err := images.Prepare(ctx, ref)
	if err != nil {
		return nil, "", fmt.Errorf("prepare image: %w", err)
	}

	imageUnpackedPath := filepath.Dir(rootfs)

	overlay, err := allocateOverlay(task.SubmissionRoot)
	if err != nil {
		return nil, "", err
	}

	overlay.LowerDir = rootfs

	fd, err := translateFD(task.SubmissionRoot, task.Parameters)
	if err != nil {
		return nil, "", err
	}

	mounts, err := translateMounts(task.SubmissionRoot, task.Parameters)
	if err != nil {
		return nil, "", err
	}

	command, _ := stringSlice(task.Parameters["command"])

	cfg := &Config{
		Overlayfs: overlay,
		Cwd:       task.SubmissionRoot,
		Command:   command,
		Paths:     []string{"/usr/bin", "/bin"},
		FD:        fd,
		Mounts:    mounts,
		Limits:    limitsFromParameters(task.Parameters),
	}

	ApplyUserNamespace(cfg, workMode, identity)
	SetCgroupPath(cfg, containerSlicePath)

	return cfg, imageUnpackedPath, nil
}

// ApplyUserNamespace sets cfg's user_namespace field per the configured
// work mode, per the subuid/subgid ranges validated at startup. In
// rootless-containerized mode it leaves the field nil, inheriting the
// outer container's namespaces.
func ApplyUserNamespace(cfg *Config, mode config.WorkMode, identity config.IdentityConfig) {
	if mode == config.WorkModeRootlessContainerized {
		return
	}

	cfg.UserNamespace = &UserNamespace{
		RootUID:     0,
		RootGID:     0,
		UIDMapBegin: identity.SubUIDStart,
		UIDMapCount: identity.SubUIDCount,
		GIDMapBegin: identity.SubGIDStart,
		GIDMapCount: identity.SubGIDCount,
	}
}

// SetCgroupPath sets cfg's cgroup parent to the judge's global
// container.slice path.
func SetCgroupPath(cfg *Config, containerSlicePath string) {
	cfg.CgroupPath = containerSlicePath
}

func allocateOverlay(submissionRoot string) (Overlayfs, error) {
	suffix := uuid.NewString()

	upper := filepath.Join(submissionRoot, "upper-"+suffix)
	work := filepath.Join(submissionRoot, "work-"+suffix)
	merged := filepath.Join(submissionRoot, "merged-"+suffix)

	for _, dir := range []string{upper, work, merged} {
		if err := os.MkdirAll(dir, overlayDirMode); err != nil {
			return Overlayfs{}, fmt.Errorf("create overlay dir %s: %w", dir, err)
		}

		if err := os.Chmod(dir, overlayDirMode); err != nil {
			return Overlayfs{}, fmt.Errorf("chmod overlay dir %s: %w", dir, err)
		}
	}

	return Overlayfs{UpperDir: upper, WorkDir: work, MergedDir: merged}, nil
}

func translateFD(submissionRoot string, parameters map[string]any) (*FDConfig, error) {
	raw, ok := parameters["fd"].(map[string]any)
	if !ok {
		return nil, nil
	}

	fd := &FDConfig{}

	for _, field := range []struct {
		key string
		dst *string
	}{
		{"stdin", &fd.Stdin},
		{"stdout", &fd.Stdout},
		{"stderr", &fd.Stderr},
	} {
		rel, ok := raw[field.key].(string)
		if !ok || rel == "" {
			continue
		}

		abs := filepath.Join(submissionRoot, rel)

		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create parent dir for %s: %w", field.key, err)
		}

		*field.dst = abs
	}

	return fd, nil
}

func translateMounts(submissionRoot string, parameters map[string]any) ([]Mount, error) {
	raw, ok := parameters["mounts"].([]any)
	if !ok {
		return nil, nil
	}

	mounts := make([]Mount, 0, len(raw))

	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}

		kind, _ := entry["kind"].(string)
		dest, _ := entry["destination"].(string)
		source, _ := entry["source"].(string)
		readOnly, _ := entry["read_only"].(bool)

		if kind == "bind" && source != "" && !filepath.IsAbs(source) {
			source = filepath.Join(submissionRoot, source)
		}

		mounts = append(mounts, Mount{Kind: kind, Source: source, Destination: dest, ReadOnly: readOnly})
	}

	return mounts, nil
}

func limitsFromParameters(parameters map[string]any) Limits {
	var limits Limits

	if v, ok := parameters["cpu_seconds"].(float64); ok {
		limits.CPUSeconds = v
	}

	if v, ok := parameters["memory_bytes"].(int); ok {
		limits.MemoryBytes = int64(v)
	}

	if v, ok := parameters["wall_seconds"].(float64); ok {
		limits.WallSeconds = v
	}

	return limits
}

func imageRefFromParameters(parameters map[string]any) (image.Ref, error) {
	imageSpec, ok := parameters["image"].(string)
	if !ok || imageSpec == "" {
		return image.Ref{}, fmt.Errorf("run_container: missing %q parameter", "image")
	}

	registry, name, tag, err := parseImageSpec(imageSpec)
	if err != nil {
		return image.Ref{}, err
	}

	return image.Ref{Registry: registry, Name: name, Tag: tag}, nil
}

// parseImageSpec splits "registry/name:tag" into its three parts.
func parseImageSpec(spec string) (registry, name, tag string, err error) {
	slash := strings.Index(spec, "/")
	if slash < 0 {
		return "", "", "", fmt.Errorf("image spec %q missing registry", spec)
	}

	registry = spec[:slash]
	rest := spec[slash+1:]

	colon := strings.LastIndex(rest, ":")
	if colon < 0 {
		return "", "", "", fmt.Errorf("image spec %q missing tag", spec)
	}

	return registry, rest[:colon], rest[colon+1:], nil
}

func stringSlice(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}

	out := make([]string, 0, len(raw))

	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}

		out = append(out, s)
	}

	return out, true
}

func marshal(cfg *Config) ([]byte, error) {
	return json.Marshal(cfg)
}
