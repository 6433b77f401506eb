package broadcast

import "time"

func wallClockSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
