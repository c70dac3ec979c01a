// Package scan orchestrates quality scan passes: locking, asset fan-out,
// scoring and contract checks.
package scan

import (
	"context"
	"errors"
)

// Runner executes a single scan pass.
type Runner interface {
	RunOnce(context.Context) error
}

// ErrScanAlreadyRunning is returned when another scan pass holds the scan
// lock.
var ErrScanAlreadyRunning = errors.New("scan is already running")

// ErrNoAssets is returned when no registered asset is available to scan.
var ErrNoAssets = errors.New("no assets are registered")
