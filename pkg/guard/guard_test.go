package guard

import (
	"time"

	"studyhall/warden/pkg/config"
)

func testUpstreamConfig() config.UpstreamConfig {
	return config.UpstreamConfig{
		Concurrency:      2,
		Timeout:          time.Second,
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
	}
}
