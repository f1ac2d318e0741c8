package models

import (
	"time"
)

// AirQuality is the two-valued air quality reading from the MQ-135 digital output
type AirQuality int

const (
	AirQualityNormal AirQuality = iota
	AirQualityHighPollution
)

func (a AirQuality) String() string {
	switch a {
	case AirQualityNormal:
		return "Normal Air"
	case AirQualityHighPollution:
		return "High Pollution Detected!"
	default:
		return "Unknown"
	}
}

// Verdict is the outcome of scoring a reading against the calibrated threshold
type Verdict int

const (
	VerdictNormal Verdict = iota
	VerdictAnomaly
)

func (v Verdict) String() string {
	switch v {
	case VerdictNormal:
		return "Normal"
	case VerdictAnomaly:
		return "Anomaly"
	default:
		return "Unknown"
	}
}

// Reading represents a single environmental sample taken on one sampling tick
type Reading struct {
	Temperature float64    `json:"temperature"`
	Humidity    float64    `json:"humidity"`
	AirQuality  AirQuality `json:"air_quality"`
	Timestamp   time.Time  `json:"timestamp"`
}
