// Package device controls the encrypted backup disk through the external
// disk tool: unlock by passphrase, mount, and the retried unmount/lock used
// on the cleanup path.
//
// Tool contract:
//
//	<tool> unlock <diskPath>       passphrase on stdin, prints "Unlocked <raw> as <clear>."
//	<tool> mount <clearDevice>     prints "Mounted <clear> at <path>."
//	<tool> unmount <clearDevice>
//	<tool> lock <diskPath>
//
// The unlock/mount output is parsed strictly: unexpected phrasing is an
// error, never a silent guess at a device path.
package device

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/snapvault/internal/common"
	"github.com/dmitrijs2005/snapvault/internal/execx"
	"github.com/dmitrijs2005/snapvault/internal/logging"
)

// DefaultTool is the disk tool binary used unless overridden.
const DefaultTool = "diskctl"

// Handle is the clear-text device produced by unlocking the backup disk.
// The zero value means "not unlocked"; cleanup treats it as a no-op.
type Handle struct {
	// Raw is the locked device the handle was derived from.
	Raw string
	// Clear is the decrypted block-device view.
	Clear string
}

// IsZero reports whether the handle was never produced.
func (h Handle) IsZero() bool {
	return h.Clear == ""
}

// Controller drives the disk tool.
type Controller struct {
	tool          string
	mountLocation string
	retryAttempts int
	retryInterval time.Duration
	runner        execx.Runner
	log           logging.Logger
}

// NewController returns a Controller expecting the unlocked volume to appear
// at mountLocation. Unmount/lock retry up to attempts times, interval apart.
func NewController(mountLocation string, attempts int, interval time.Duration,
	runner execx.Runner, log logging.Logger) *Controller {
	return &Controller{
		tool:          DefaultTool,
		mountLocation: mountLocation,
		retryAttempts: attempts,
		retryInterval: interval,
		runner:        runner,
		log:           log,
	}
}

var unlockRe = regexp.MustCompile(`(?m)^Unlocked (\S+) as ([\w/][\w/.-]*?)\.?$`)

// parseUnlockOutput extracts the clear device from the tool's unlock output.
// Any deviation from the expected phrasing is common.ErrUnlock.
func parseUnlockOutput(out string) (Handle, error) {
	m := unlockRe.FindStringSubmatch(out)
	if m == nil {
		return Handle{}, fmt.Errorf("%w: unrecognized unlock output %q", common.ErrUnlock, out)
	}
	return Handle{Raw: m[1], Clear: m[2]}, nil
}

var mountRe = regexp.MustCompile(`(?m)^Mounted (\S+) at ([\w/][\w/.-]*?)\.?$`)

func parseMountOutput(out string) (string, error) {
	m := mountRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("%w: unrecognized mount output %q", common.ErrMount, out)
	}
	return m[2], nil
}

// Unlock unlocks diskPath with the given passphrase and returns the clear
// device handle. The passphrase is passed on stdin.
func (c *Controller) Unlock(ctx context.Context, diskPath, passphrase string) (Handle, error) {
	out, err := c.runner.RunInput(ctx, passphrase+"\n", c.tool, "unlock", diskPath)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", common.ErrUnlock, err)
	}

	h, err := parseUnlockOutput(out)
	if err != nil {
		return Handle{}, err
	}

	c.log.Info(ctx, "disk unlocked", "raw", h.Raw, "clear", h.Clear)
	return h, nil
}

// Mount mounts the clear device and returns the mount path. A volume that
// mounts anywhere other than the configured location is a hard stop.
func (c *Controller) Mount(ctx context.Context, h Handle) (string, error) {
	out, err := c.runner.Run(ctx, c.tool, "mount", h.Clear)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrMount, err)
	}

	path, err := parseMountOutput(out)
	if err != nil {
		return "", err
	}
	if path != c.mountLocation {
		return "", fmt.Errorf("%w: mounted at %s, expected %s", common.ErrMount, path, c.mountLocation)
	}

	c.log.Info(ctx, "disk mounted", "path", path)
	return path, nil
}

// Unmount unmounts the clear device, retrying on failure. A zero handle is a
// no-op. Exhausting the retries returns the final error; on the cleanup path
// the caller logs it instead of failing the run.
func (c *Controller) Unmount(ctx context.Context, h Handle) error {
	if h.IsZero() {
		return nil
	}
	return c.withRetries(ctx, "unmount", func(ctx context.Context) error {
		_, err := c.runner.Run(ctx, c.tool, "unmount", h.Clear)
		return err
	})
}

// Lock relocks the disk. Same retry policy and no-op rule as Unmount.
func (c *Controller) Lock(ctx context.Context, diskPath string, h Handle) error {
	if h.IsZero() {
		return nil
	}
	return c.withRetries(ctx, "lock", func(ctx context.Context) error {
		_, err := c.runner.Run(ctx, c.tool, "lock", diskPath)
		return err
	})
}

func (c *Controller) withRetries(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(c.retryAttempts-1), retry.NewConstant(c.retryInterval))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := fn(ctx); err != nil {
			c.log.Warn(ctx, "device operation failed, will retry",
				"op", op, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
