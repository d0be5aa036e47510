// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package sampling

import (
	"time"

	"github.com/soothill/envoy-data-logger/pkg/interfaces"
)

// filterNewReadings keeps readings strictly newer than the cutoff. A nil
// cutoff keeps everything. A reading timestamped exactly at the cutoff is
// already recorded and must be dropped.
//
// The Envoy's internal inverter cache lags, so consecutive polls re-report
// the same readings; the cutoff comes from a backend query rather than
// local bookkeeping because a restart loses any in-memory watermark.
func filterNewReadings(readings map[string]interfaces.InverterReading, cutoff *time.Time) map[string]interfaces.InverterReading {
	if cutoff == nil {
		return readings
	}

	fresh := make(map[string]interfaces.InverterReading, len(readings))
	for serial, reading := range readings {
		if reading.Timestamp.After(*cutoff) {
			fresh[serial] = reading
		}
	}
	return fresh
}
