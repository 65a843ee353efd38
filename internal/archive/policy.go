package archive

import "github.com/gftdcojp/sensor-packet-store/internal/index"

// selectBucket picks the bucket a packet stamped ts is written to, given
// the current time and the bucket index. It reports whether the bucket is
// new and must be added to the index once the write succeeds.
//
// The decision compares now against the latest bucket, not ts against the
// bucket ranges, so a packet queued while the clock was far ahead or
// behind can land in a bucket whose nominal range does not contain it.
func selectBucket(buckets *index.Timestamps, now, ts, timespan int64) (bucket int64, created bool) {
	latest, ok := buckets.Last()
	if !ok {
		return ts, true
	}

	age := now - latest
	switch {
	case age < 0:
		// The latest bucket lies in the future: fall back to the bucket
		// whose range brackets the packet's own timestamp.
		for i := 1; i < buckets.Len(); i++ {
			if lo, hi := buckets.At(i-1), buckets.At(i); lo <= ts && ts < hi {
				return lo, false
			}
		}
		if ts >= latest {
			return latest, false
		}
		return ts, !buckets.Contains(ts)
	case age < timespan:
		return latest, false
	default:
		return ts, !buckets.Contains(ts)
	}
}
