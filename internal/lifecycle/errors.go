package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/CosmoTheDev/deltascan/models"
)

var (
	// ErrTimeout is matched by *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for scan")
	// ErrScanFailed is matched by *ScanFailedError.
	ErrScanFailed = errors.New("scan failed")
)

// TimeoutError reports that a scan did not reach the expected state in time.
// The remote scan is left as it is.
type TimeoutError struct {
	ScanCode   string
	Waited     time.Duration
	LastStatus string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scan %s did not finish within %s (last status %s)", e.ScanCode, e.Waited, e.LastStatus)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ScanFailedError reports a scan the backend declared FAILED or INTERRUPTED.
type ScanFailedError struct {
	ScanCode string
	Status   models.ScanStatus
	Message  string
}

func (e *ScanFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("scan %s ended with status %s", e.ScanCode, e.Status)
	}
	return fmt.Sprintf("scan %s ended with status %s: %s", e.ScanCode, e.Status, e.Message)
}

func (e *ScanFailedError) Is(target error) bool { return target == ErrScanFailed }
