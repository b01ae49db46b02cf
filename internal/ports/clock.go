package ports

import "time"

// Clock supplies collector-side timestamps.
type Clock interface {
	NowMs() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) NowMs() int64 { return time.Now().UnixMilli() }
