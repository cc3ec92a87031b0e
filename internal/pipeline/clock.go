// SPDX-License-Identifier: MIT

package pipeline

import "time"

// clockStart anchors the monotonic reading returned by NowUs; only the
// delta from this point is meaningful, equivalent to measuring against
// CLOCK_MONOTONIC.
var clockStart = time.Now()

// NowUs returns microseconds on a monotonic clock. PTS must be captured
// at the point of dequeue/read completion, never earlier: encoding and
// queuing latency must not contaminate the timestamp.
func NowUs() int64 {
	return time.Since(clockStart).Microseconds()
}
