// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package envoy provides the HTTP client for the Enphase Envoy local API.
package envoy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/soothill/envoy-data-logger/pkg/errors"
	"github.com/soothill/envoy-data-logger/pkg/interfaces"
	"github.com/soothill/envoy-data-logger/pkg/logger"
)

const (
	powerPath    = "/production.json?details=1"
	inverterPath = "/api/v1/production/inverters"
)

// Client polls the Envoy's local HTTP API. Safe for concurrent use: the
// power and inverter loops poll independently.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates an Envoy client for the given base URL. The Envoy
// serves a self-signed certificate, so verification is disabled for this
// client only; cloud auth traffic uses a separate verified client.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // Envoy local API uses a self-signed certificate
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// productionResponse models /production.json?details=1. Both the
// consumption and production arrays mix section types; only "eim" sections
// carry per-line data.
type productionResponse struct {
	Production  []meterSection `json:"production"`
	Consumption []meterSection `json:"consumption"`
}

type meterSection struct {
	Type            string      `json:"type"`
	MeasurementType string      `json:"measurementType"`
	ReadingTime     int64       `json:"readingTime"`
	Lines           []meterLine `json:"lines"`
}

type meterLine struct {
	WNow       float64 `json:"wNow"`
	ReactPwr   float64 `json:"reactPwr"`
	ApprntPwr  float64 `json:"apprntPwr"`
	RMSCurrent float64 `json:"rmsCurrent"`
	RMSVoltage float64 `json:"rmsVoltage"`
}

// inverterResponse models one entry of /api/v1/production/inverters
type inverterResponse struct {
	SerialNumber    string  `json:"serialNumber"`
	LastReportDate  int64   `json:"lastReportDate"`
	LastReportWatts float64 `json:"lastReportWatts"`
}

// GetPowerSnapshot reads the current per-line power data from the Envoy.
func (c *Client) GetPowerSnapshot(ctx context.Context) (*interfaces.PowerSnapshot, error) {
	var parsed productionResponse
	if err := c.getJSON(ctx, powerPath, &parsed); err != nil {
		return nil, pkgerrors.NewPollError("power snapshot", classifyTransport(err), err)
	}

	snapshot := &interfaces.PowerSnapshot{Timestamp: time.Now().UTC()}

	for _, section := range parsed.Consumption {
		if section.Type != "eim" {
			continue
		}
		switch section.MeasurementType {
		case "total-consumption":
			snapshot.TotalConsumption = linesToSamples(section.Lines)
		case "net-consumption":
			snapshot.NetConsumption = linesToSamples(section.Lines)
		}
	}
	for _, section := range parsed.Production {
		if section.Type == "eim" && section.MeasurementType == "production" {
			snapshot.TotalProduction = linesToSamples(section.Lines)
		}
	}

	if len(snapshot.TotalConsumption) == 0 && len(snapshot.TotalProduction) == 0 && len(snapshot.NetConsumption) == 0 {
		return nil, pkgerrors.NewPollError("power snapshot", pkgerrors.KindUnknown,
			fmt.Errorf("no eim meter sections in response"))
	}

	logger.Debug().
		Int("consumption_lines", len(snapshot.TotalConsumption)).
		Int("production_lines", len(snapshot.TotalProduction)).
		Int("net_lines", len(snapshot.NetConsumption)).
		Msg("Power snapshot")

	return snapshot, nil
}

// GetInverterSnapshot reads per-inverter production, keyed by serial.
func (c *Client) GetInverterSnapshot(ctx context.Context) (map[string]interfaces.InverterReading, error) {
	var parsed []inverterResponse
	if err := c.getJSON(ctx, inverterPath, &parsed); err != nil {
		return nil, pkgerrors.NewPollError("inverter snapshot", classifyTransport(err), err)
	}

	readings := make(map[string]interfaces.InverterReading, len(parsed))
	for _, inv := range parsed {
		if inv.SerialNumber == "" {
			continue
		}
		readings[inv.SerialNumber] = interfaces.InverterReading{
			Serial:    inv.SerialNumber,
			Timestamp: time.Unix(inv.LastReportDate, 0).UTC(),
			Watts:     inv.LastReportWatts,
		}
	}

	logger.Debug().Int("inverters", len(readings)).Msg("Inverter snapshot")
	return readings, nil
}

// getJSON performs an authenticated GET and decodes the JSON response.
// A 401 invalidates the cached token and retries once with a fresh one.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		logger.Warn().Str("path", path).Msg("Envoy rejected token, refreshing")
		c.tokens.Invalidate()
		resp, err = c.get(ctx, path)
		if err != nil {
			return err
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("envoy returned status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode envoy response for %s: %w", path, err)
	}

	return nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func linesToSamples(lines []meterLine) []interfaces.LineSample {
	samples := make([]interfaces.LineSample, len(lines))
	for i, line := range lines {
		samples[i] = interfaces.LineSample{
			ActivePower:   line.WNow,
			ReactivePower: line.ReactPwr,
			ApparentPower: line.ApprntPwr,
			RMSCurrent:    line.RMSCurrent,
			RMSVoltage:    line.RMSVoltage,
		}
	}
	return samples
}
