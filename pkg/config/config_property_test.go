// Property-based tests for configuration fallback to defaults.
package config

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InvalidValuesFallBackToDefaults checks that any out of range
// numeric setting is replaced by its default, keeping the service operational.
func TestProperty_InvalidValuesFallBackToDefaults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.MaxSize = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("non-positive queue size falls back to default", prop.ForAll(
		func(size int) bool {
			cfg := &Config{Engine: EngineConfig{QueueSize: size}}
			validateAndApplyDefaults(cfg)
			return cfg.Engine.QueueSize == DefaultQueueSize
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("non-positive durations fall back to defaults", prop.ForAll(
		func(seconds int) bool {
			d := time.Duration(seconds) * time.Second
			cfg := &Config{
				Demo:    DemoConfig{Interval: d},
				Engine:  EngineConfig{WatchInterval: d, StatsInterval: d},
				Streams: StreamsConfig{SSE: SSEConfig{RetryInterval: d}},
				Kube:    KubeConfig{Resync: d},
			}
			validateAndApplyDefaults(cfg)
			return cfg.Demo.Interval == DefaultDemoInterval &&
				cfg.Engine.WatchInterval == DefaultWatchInterval &&
				cfg.Engine.StatsInterval == DefaultStatsInterval &&
				cfg.Streams.SSE.RetryInterval == DefaultSSERetry &&
				cfg.Kube.Resync == DefaultKubeResync
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("out of range ports fall back to default", prop.ForAll(
		func(port int) bool {
			cfg := &Config{Server: ServerConfig{Port: port}}
			validateAndApplyDefaults(cfg)
			return cfg.Server.Port == DefaultPort
		},
		gen.OneGenOf(gen.IntRange(-1000, 0), gen.IntRange(65536, 100000)),
	))

	properties.Property("valid values are kept", prop.ForAll(
		func(size int, port int) bool {
			cfg := &Config{
				Server: ServerConfig{Port: port},
				Engine: EngineConfig{QueueSize: size},
			}
			validateAndApplyDefaults(cfg)
			return cfg.Engine.QueueSize == size && cfg.Server.Port == port
		},
		gen.IntRange(1, 100000),
		gen.IntRange(1, 65535),
	))

	properties.TestingRun(t)
}
