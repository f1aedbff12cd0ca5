package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	Count   uint32
	EpochID uint64
}

// Quota defines the per-address submission limit enforced for a module
// interaction. A zero MaxPerEpoch disables the check.
type Quota struct {
	MaxPerEpoch  uint32
	EpochSeconds uint32
}

// Enabled reports whether the quota imposes any limit.
func (q Quota) Enabled() bool {
	return q.MaxPerEpoch > 0 && q.EpochSeconds > 0
}

// CheckQuota verifies whether the additional submissions fit within the
// configured quota. The returned QuotaNow reflects the updated counters when
// the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, add uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if add > 0 {
		if next.Count > math.MaxUint32-add {
			return prev, ErrQuotaCounterOverflow
		}
		next.Count += add
	}
	if q.MaxPerEpoch > 0 && next.Count > q.MaxPerEpoch {
		return prev, ErrQuotaExceeded
	}

	return next, nil
}
