package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaOrdersExceeded  = errors.New("quota orders exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters for one identity.
type QuotaNow struct {
	Orders  uint32
	EpochID uint64
}

// Quota bounds how many orders an identity may submit per epoch. A zero
// MaxOrdersPerEpoch disables the check.
type Quota struct {
	MaxOrdersPerEpoch uint32
	EpochSeconds      uint32
}

// Epoch returns the epoch index for a unix timestamp.
func (q Quota) Epoch(now uint64) uint64 {
	if q.EpochSeconds == 0 {
		return 0
	}
	return now / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional orders fit within the configured
// quota. The returned QuotaNow reflects the updated counters when the quota is
// not exceeded; on failure prev is returned unchanged.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, add uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}
	if add > 0 {
		if next.Orders > math.MaxUint32-add {
			return prev, ErrQuotaCounterOverflow
		}
		next.Orders += add
	}
	if q.MaxOrdersPerEpoch > 0 && next.Orders > q.MaxOrdersPerEpoch {
		return prev, ErrQuotaOrdersExceeded
	}
	return next, nil
}
