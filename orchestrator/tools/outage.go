package tools

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/netopctl/topology-agent/orchestrator/state"
)

var outageSeverities = []string{"minor", "major", "critical"}

var outageMessages = []string{
	"Signal pulse anomaly detected",
	"Loss of signal (LOS)",
	"High latency threshold exceeded",
	"Hardware fan failure",
	"BGP peering down",
}

// OutageTool simulates active alarms against the circuits, devices, and
// sites a plan step names, standing in for a real alarm feed. It never
// consults $ref tokens itself: the executor resolves every "$ref:<id>..."
// param before this tool ever runs, so the per-tool sniffing the original
// tool carried as a defensive fallback would be dead code here.
type OutageTool struct {
	logger *zap.Logger
}

func NewOutageTool(logger *zap.Logger) *OutageTool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutageTool{logger: logger}
}

func (t *OutageTool) Name() state.Tool { return state.ToolOutage }

func (t *OutageTool) Run(ctx context.Context, st *state.RequestState, params map[string]any) (state.ToolEnvelope, error) {
	siteNames := stringSlice(params["site_names"])
	deviceIDs := stringSlice(params["device_ids"])
	circuitIDs := stringSlice(params["circuit_ids"])

	if len(siteNames) == 0 && len(deviceIDs) == 0 && len(circuitIDs) == 0 {
		siteNames = selectedSites(st, params)
	}

	if len(siteNames) == 0 && len(deviceIDs) == 0 && len(circuitIDs) == 0 {
		return state.ToolEnvelope{
			Error: "outage_tool: no sites, devices, or circuits to check",
		}, nil
	}

	var alarms []state.Alarm
	now := time.Now()

	for _, c := range circuitIDs {
		if rand.Float64() < 0.3 {
			alarms = append(alarms, randomAlarm("CIR", c, "circuit", now))
		}
	}
	for _, d := range deviceIDs {
		if rand.Float64() < 0.2 {
			alarms = append(alarms, randomAlarm("DEV", d, "device", now))
		}
	}
	for _, s := range siteNames {
		if rand.Float64() < 0.1 {
			alarms = append(alarms, randomAlarm("SITE", s, "site", now))
		}
	}

	if len(alarms) == 0 && len(siteNames) > 0 {
		alarms = append(alarms, state.Alarm{
			AlarmID:     fmt.Sprintf("ALM-SITE-%d", 1000+rand.IntN(9000)),
			ElementID:   siteNames[0],
			ElementType: "site",
			Severity:    "minor",
			Message:     "Transient interface flapping detected in aggregation layer",
			Timestamp:   now,
		})
	}

	return state.ToolEnvelope{
		Payload: alarms,
		Metadata: map[string]any{
			"source":     "outage_tool_stub",
			"num_alarms": len(alarms),
			"elements_checked": map[string]any{
				"sites":    len(siteNames),
				"devices":  len(deviceIDs),
				"circuits": len(circuitIDs),
			},
		},
	}, nil
}

func randomAlarm(prefix, elementID, elementType string, now time.Time) state.Alarm {
	return state.Alarm{
		AlarmID:     fmt.Sprintf("ALM-%s-%d", prefix, 1000+rand.IntN(9000)),
		ElementID:   elementID,
		ElementType: elementType,
		Severity:    outageSeverities[rand.IntN(len(outageSeverities))],
		Message:     outageMessages[rand.IntN(len(outageMessages))],
		Timestamp:   now,
	}
}
