package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Candlest/seele/internal/config"
	"github.com/Candlest/seele/internal/image"
	"github.com/Candlest/seele/internal/runner"
	"github.com/Candlest/seele/internal/submission"
)

func fakeImageCache(t *testing.T) *image.Cache {
	t.Helper()

	dir := t.TempDir()
	script := "#!/bin/sh\nexit 0\n"

	copyBin := filepath.Join(dir, "copy.sh")
	unpackBin := filepath.Join(dir, "unpack.sh")

	require.NoError(t, os.WriteFile(copyBin, []byte(script), 0o755))
	require.NoError(t, os.WriteFile(unpackBin, []byte(script), 0o755))

	return image.NewCache(t.TempDir(), copyBin, unpackBin)
}

func TestBuildConfig_AllocatesOverlayAndResolvesImage(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cache := fakeImageCache(t)

	task := submission.ActionTask{
		SubmissionRoot: root,
		Parameters: map[string]any{
			"image":   "docker.io/library/alpine:3.19",
			"command": []any{"/bin/true"},
		},
	}

	cfg, imageUnpackedPath, err := runner.BuildConfig(context.Background(), cache, task,
		config.WorkModeBare, config.IdentityConfig{SubUIDStart: 100000, SubUIDCount: 65536, SubGIDStart: 100000, SubGIDCount: 65536},
		"/sys/fs/cgroup/seele/container.slice")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.Overlayfs.UpperDir)
	assert.NotEmpty(t, cfg.Overlayfs.WorkDir)
	assert.NotEmpty(t, cfg.Overlayfs.MergedDir)
	assert.Contains(t, cfg.Overlayfs.LowerDir, "rootfs")
	assert.Equal(t, []string{"/bin/true"}, cfg.Command)
	assert.Contains(t, imageUnpackedPath, "unpacked")

	require.NotNil(t, cfg.UserNamespace)
	assert.Equal(t, 100000, cfg.UserNamespace.UIDMapBegin)
	assert.Equal(t, "/sys/fs/cgroup/seele/container.slice", cfg.CgroupPath)

	for _, dir := range []string{cfg.Overlayfs.UpperDir, cfg.Overlayfs.WorkDir, cfg.Overlayfs.MergedDir} {
		info, statErr := os.Stat(dir)
		require.NoError(t, statErr)
		assert.True(t, info.IsDir())
	}
}

func TestBuildConfig_MissingImageFails(t *testing.T) {
	t.Parallel()

	cache := fakeImageCache(t)

	task := submission.ActionTask{
		SubmissionRoot: t.TempDir(),
		Parameters:     map[string]any{},
	}

	_, _, err := runner.BuildConfig(context.Background(), cache, task, config.WorkModeRootlessContainerized, config.IdentityConfig{}, "")
	assert.Error(t, err)
}

func TestBuildConfig_TranslatesMountsAndFD(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cache := fakeImageCache(t)

	task := submission.ActionTask{
		SubmissionRoot: root,
		Parameters: map[string]any{
			"image": "docker.io/library/alpine:3.19",
			"fd": map[string]any{
				"stdin":  "in.txt",
				"stdout": "out.txt",
			},
			"mounts": []any{
				map[string]any{"kind": "bind", "source": "data", "destination": "/data"},
			},
		},
	}

	cfg, _, err := runner.BuildConfig(context.Background(), cache, task, config.WorkModeRootlessContainerized, config.IdentityConfig{}, "")
	require.NoError(t, err)

	require.NotNil(t, cfg.FD)
	assert.Equal(t, filepath.Join(root, "in.txt"), cfg.FD.Stdin)
	assert.Equal(t, filepath.Join(root, "out.txt"), cfg.FD.Stdout)

	require.Len(t, cfg.Mounts, 1)
	assert.Equal(t, filepath.Join(root, "data"), cfg.Mounts[0].Source)
	assert.Equal(t, "/data", cfg.Mounts[0].Destination)
}

func TestApplyUserNamespace_RootlessOmitsNamespace(t *testing.T) {
	t.Parallel()

	cfg := &runner.Config{}
	runner.ApplyUserNamespace(cfg, config.WorkModeRootlessContainerized, config.IdentityConfig{})

	assert.Nil(t, cfg.UserNamespace)
}

func TestApplyUserNamespace_BareSetsNamespace(t *testing.T) {
	t.Parallel()

	cfg := &runner.Config{}
	runner.ApplyUserNamespace(cfg, config.WorkModeBare, config.IdentityConfig{
		SubUIDStart: 100000,
		SubUIDCount: 65536,
		SubGIDStart: 100000,
		SubGIDCount: 65536,
	})

	require.NotNil(t, cfg.UserNamespace)
	assert.Equal(t, 100000, cfg.UserNamespace.UIDMapBegin)
	assert.Equal(t, 65536, cfg.UserNamespace.UIDMapCount)
}

func TestSetCgroupPath(t *testing.T) {
	t.Parallel()

	cfg := &runner.Config{}
	runner.SetCgroupPath(cfg, "/sys/fs/cgroup/seele/container.slice")

	assert.Equal(t, "/sys/fs/cgroup/seele/container.slice", cfg.CgroupPath)
}
