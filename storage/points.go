// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"fmt"
	"sort"
	"time"

	"github.com/soothill/envoy-data-logger/pkg/interfaces"
)

// Tag keys shared by every point this logger writes.
const (
	TagSource          = "source"
	TagMeasurementType = "measurement-type"
	TagLineIdx         = "line-idx"
	TagSerial          = "serial"
	TagInterval        = "interval"

	// MeasurementTypeInverter marks per-inverter series; the power rollover
	// excludes it and the inverter watermark/rollover select it.
	MeasurementTypeInverter = "inverter"

	// FieldActivePower is the field the daily integrals run over.
	FieldActivePower = "P"
	// FieldDailyEnergy carries the computed daily total in watt-hours.
	FieldDailyEnergy = "Wh"

	dailyInterval = "24h"
)

// InverterTagger supplies extra per-inverter tags, typically from
// configuration (array position, panel, etc.). May return nil.
type InverterTagger func(serial string) map[string]string

// PowerPoints builds one high-rate point per line per channel group.
// Each tick has a distinct timestamp, so these points are unique per
// measurement identity without any dedup.
func PowerPoints(snapshot *interfaces.PowerSnapshot, sourceTag string) []interfaces.Point {
	points := make([]interfaces.Point, 0,
		len(snapshot.TotalConsumption)+len(snapshot.TotalProduction)+len(snapshot.NetConsumption))

	for idx, line := range snapshot.TotalConsumption {
		points = append(points, linePoint("consumption", idx, line, snapshot.Timestamp, sourceTag))
	}
	for idx, line := range snapshot.TotalProduction {
		points = append(points, linePoint("production", idx, line, snapshot.Timestamp, sourceTag))
	}
	for idx, line := range snapshot.NetConsumption {
		points = append(points, linePoint("net", idx, line, snapshot.Timestamp, sourceTag))
	}

	return points
}

func linePoint(measurementType string, idx int, line interfaces.LineSample, ts time.Time, sourceTag string) interfaces.Point {
	return interfaces.Point{
		Measurement: fmt.Sprintf("%s-line%d", measurementType, idx),
		Timestamp:   ts,
		Tags: map[string]string{
			TagSource:          sourceTag,
			TagMeasurementType: measurementType,
			TagLineIdx:         fmt.Sprintf("%d", idx),
		},
		Fields: map[string]float64{
			FieldActivePower: line.ActivePower,
			"Q":              line.ReactivePower,
			"S":              line.ApparentPower,
			"I_rms":          line.RMSCurrent,
			"V_rms":          line.RMSVoltage,
		},
	}
}

// InverterPoints builds one high-rate point per inverter reading, in
// serial order for deterministic batches.
func InverterPoints(readings map[string]interfaces.InverterReading, sourceTag string, tagger InverterTagger) []interfaces.Point {
	serials := make([]string, 0, len(readings))
	for serial := range readings {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	points := make([]interfaces.Point, 0, len(readings))
	for _, serial := range serials {
		reading := readings[serial]
		points = append(points, interfaces.Point{
			Measurement: "inverter-production-" + serial,
			Timestamp:   reading.Timestamp,
			Tags: inverterTags(serial, sourceTag, tagger),
			Fields: map[string]float64{
				FieldActivePower: reading.Watts,
			},
		})
	}
	return points
}

// PowerDailyPoints builds one daily summary point per integral group.
// Groups are expected to carry measurement-type and line-idx tags.
func PowerDailyPoints(groups []interfaces.IntegralGroup, ts time.Time, sourceTag string) []interfaces.Point {
	points := make([]interfaces.Point, 0, len(groups))
	for _, group := range groups {
		measurementType := group.Tags[TagMeasurementType]
		idx := group.Tags[TagLineIdx]
		points = append(points, interfaces.Point{
			Measurement: fmt.Sprintf("%s-daily-summary-line%s", measurementType, idx),
			Timestamp:   ts,
			Tags: map[string]string{
				TagSource:          sourceTag,
				TagMeasurementType: measurementType,
				TagLineIdx:         idx,
				TagInterval:        dailyInterval,
			},
			Fields: map[string]float64{
				FieldDailyEnergy: group.Value,
			},
		})
	}
	return points
}

// InverterDailyPoints builds one daily summary point per inverter that
// reported, plus an explicit zero point for every expected serial absent
// from the query result. Every expected inverter gets exactly one point
// per rollover, even silence.
func InverterDailyPoints(groups []interfaces.IntegralGroup, expected []string, ts time.Time, sourceTag string, tagger InverterTagger) []interfaces.Point {
	unreported := make(map[string]bool, len(expected))
	for _, serial := range expected {
		unreported[serial] = true
	}

	points := make([]interfaces.Point, 0, len(groups)+len(expected))
	for _, group := range groups {
		serial := group.Tags[TagSerial]
		delete(unreported, serial)
		points = append(points, inverterDailyPoint(serial, group.Value, ts, sourceTag, tagger))
	}

	missing := make([]string, 0, len(unreported))
	for serial := range unreported {
		missing = append(missing, serial)
	}
	sort.Strings(missing)
	for _, serial := range missing {
		points = append(points, inverterDailyPoint(serial, 0.0, ts, sourceTag, tagger))
	}

	return points
}

func inverterDailyPoint(serial string, wh float64, ts time.Time, sourceTag string, tagger InverterTagger) interfaces.Point {
	tags := inverterTags(serial, sourceTag, tagger)
	tags[TagInterval] = dailyInterval
	return interfaces.Point{
		Measurement: "inverter-daily-summary-" + serial,
		Timestamp:   ts,
		Tags:        tags,
		Fields: map[string]float64{
			FieldDailyEnergy: wh,
		},
	}
}

func inverterTags(serial, sourceTag string, tagger InverterTagger) map[string]string {
	tags := map[string]string{
		TagSource:          sourceTag,
		TagMeasurementType: MeasurementTypeInverter,
		TagSerial:          serial,
	}
	if tagger != nil {
		for k, v := range tagger(serial) {
			// Extra tags never override the identity tags
			if _, reserved := tags[k]; !reserved {
				tags[k] = v
			}
		}
	}
	return tags
}
