// Package image prepares OCI container images on disk: pulling them with
// an external copy tool and unpacking them with an external unpack tool,
// coalescing concurrent requests for the same image via a single-flight
// cache.
package image

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	pullTimeout   = 183 * time.Second
	unpackTimeout = 120 * time.Second

	copyCommandTimeout = "180s"
	copyRetryTimes     = "3"

	ociSubdir      = "oci"
	unpackedSubdir = "unpacked"
)

// Ref identifies an OCI image by registry, name, and tag.
type Ref struct {
	Registry string
	Name     string
	Tag      string
}

func (r Ref) key() string {
	return r.Registry + "/" + r.Name + ":" + r.Tag
}

// Cache prepares images on disk, coalescing concurrent callers for the
// same Ref so the external tools run at most once per key at a time.
type Cache struct {
	imagesRoot string
	copyBin    string
	unpackBin  string

	group singleflight.Group
}

// NewCache builds a Cache rooted at imagesRoot, invoking copyBin to pull
// images and unpackBin to unpack them.
func NewCache(imagesRoot, copyBin, unpackBin string) *Cache {
	return &Cache{
		imagesRoot: imagesRoot,
		copyBin:    copyBin,
		unpackBin:  unpackBin,
	}
}

// Prepare ensures ref's image is pulled and unpacked on disk, returning the
// absolute path to its rootfs. Concurrent callers for the same ref share
// one underlying preparation; the result is not cached once resolved, so
// the next call re-checks disk.
func (c *Cache) Prepare(ctx context.Context, ref Ref) (string, error) {
	v, err, _ := c.group.Do(ref.key(), func() (any, error) {
		return c.prepareImpl(ctx, ref)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (c *Cache) prepareImpl(ctx context.Context, ref Ref) (string, error) {
	ociPath, unpackedPath := c.paths(ref)

	if err := c.pull(ctx, ref, ociPath); err != nil {
		return "", err
	}

	rootfs, err := c.unpack(ctx, ref, ociPath, unpackedPath)
	if err != nil {
		return "", err
	}

	return rootfs, nil
}

// paths derives the on-disk layout: <images-root>/<registry>/<escaped
// name>/{oci,unpacked}, escaping slashes in the image name to underscores.
func (c *Cache) paths(ref Ref) (ociPath, unpackedPath string) {
	escapedName := strings.ReplaceAll(ref.Name, "/", "_")
	base := filepath.Join(c.imagesRoot, ref.Registry, escapedName)

	return filepath.Join(base, ociSubdir), filepath.Join(base, unpackedSubdir)
}

func (c *Cache) pull(ctx context.Context, ref Ref, ociPath string) error {
	if _, err := os.Stat(ociPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(ociPath, 0o755); err != nil {
		return fmt.Errorf("create oci dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()

	src := fmt.Sprintf("docker://%s/%s:%s", ref.Registry, ref.Name, ref.Tag)
	dst := fmt.Sprintf("oci:%s:%s", ociPath, ref.Tag)

	cmd := exec.CommandContext(ctx, c.copyBin,
		"copy", src, dst,
		"--command-timeout", copyCommandTimeout,
		"--retry-times", copyRetryTimes,
		"--quiet",
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pull image %s: %w: %s", ref.key(), err, out)
	}

	return nil
}

func (c *Cache) unpack(ctx context.Context, ref Ref, ociPath, unpackedPath string) (string, error) {
	rootfs := filepath.Join(unpackedPath, "rootfs")

	if _, err := os.Stat(unpackedPath); err == nil {
		return rootfs, nil
	}

	if err := os.MkdirAll(unpackedPath, 0o755); err != nil {
		return "", fmt.Errorf("create unpacked dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, unpackTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.unpackBin,
		"--log", "error",
		"unpack", "--rootless",
		"--image", fmt.Sprintf("%s:%s", ociPath, ref.Tag),
		unpackedPath,
	)

	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("unpack image %s: %w: %s", ref.key(), err, out)
	}

	return rootfs, nil
}
