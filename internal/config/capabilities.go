package config

import (
	"fmt"
	"os"
	"strings"

	"smartroute/internal/broker"

	"gopkg.in/yaml.v3"
)

// ResolveCapabilities builds the venue capability sheet for one broker.
// Inline fields act as the base; a capabilities_file, when present,
// overrides them.
func (b BrokerConfig) ResolveCapabilities() (broker.Capabilities, error) {
	caps := broker.Capabilities{
		LotSize:        b.LotSize,
		FeeRate:        b.FeeRate,
		AvgLatencyMs:   b.AvgLatencyMs,
		LiquidityUnits: b.LiquidityUnits,
	}
	path := strings.TrimSpace(b.CapabilitiesFile)
	if path == "" {
		return caps, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return caps, fmt.Errorf("reading capabilities file failed (%s): %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &caps); err != nil {
		return caps, fmt.Errorf("parsing capabilities file failed (%s): %w", path, err)
	}
	return caps, nil
}
