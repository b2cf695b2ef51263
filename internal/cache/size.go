package cache

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/proto"
)

// unknownValueSize is charged for values whose size cannot be estimated.
const unknownValueSize = 64

// Sizer is implemented by values that know their own footprint.
type Sizer interface {
	CacheSize() int64
}

// SizeEstimator returns the approximate size of a value in bytes.
type SizeEstimator interface {
	EstimateSize(value any) int64
}

// SizeEstimatorFunc adapts a function to the SizeEstimator interface.
type SizeEstimatorFunc func(value any) int64

// EstimateSize makes SizeEstimatorFunc satisfy SizeEstimator.
func (f SizeEstimatorFunc) EstimateSize(value any) int64 {
	return f(value)
}

// EstimateSize is the default estimator. Byte slices and strings are charged their length,
// protobuf messages their wire size, scalars their width. Anything else is charged the length of
// its JSON encoding.
func EstimateSize(value any) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case Sizer:
		return v.CacheSize()
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	case proto.Message:
		return int64(proto.Size(v))
	case bool, int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32, float32:
		return 4
	case int, int64, uint, uint64, uintptr, float64, complex64:
		return 8
	case complex128:
		return 16
	case time.Time:
		return 24
	case time.Duration:
		return 8
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return unknownValueSize
	}
	return int64(len(encoded))
}
