package storage

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/specklesystems/objectloader2/internal/build"
	"github.com/specklesystems/objectloader2/pkg/types"
)

var unreadableCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectName,
	Name:      "cache_checksum_mismatches_total",
	Help:      "The total number of cached objects dropped because they could not be decoded or their checksum did not match.",
}, []string{"engine"})

// CountUnreadable records a cached object of engine that was dropped as unreadable.
func CountUnreadable(engine string) {
	unreadableCounter.WithLabelValues(engine).Inc()
}

// Checksum is the xxhash of an encoded base, stored as a signed integer so
// that every SQL engine can hold it in a BIGINT column.
func Checksum(data []byte) int64 {
	return int64(xxhash.Sum64(data))
}

// EncodeItem returns the stored form of item.Base and its checksum.
func EncodeItem(item *types.Item) ([]byte, int64, error) {
	if item == nil || item.Base == nil {
		return nil, 0, fmt.Errorf("encode %v: item has no base", item)
	}
	data, err := item.Base.MarshalJSON()
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s: %w", item.BaseID, err)
	}
	return data, Checksum(data), nil
}

// DecodeItem rebuilds an Item from a stored row.
func DecodeItem(id string, data []byte, checksum int64) (*types.Item, error) {
	if Checksum(data) != checksum {
		return nil, fmt.Errorf("%s: %w", id, ErrChecksumMismatch)
	}
	item, err := types.ParseItem(id, data)
	if err != nil {
		return nil, err
	}
	item.Size = len(data)
	return item, nil
}
