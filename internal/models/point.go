package models

import (
	"time"
)

// TopicTag is the tag key carrying the originating bus topic
const TopicTag = "topic"

// SensorPoint represents a single relayed time series record
type SensorPoint struct {
	Measurement string                 `json:"measurement"`
	Tags        map[string]string      `json:"tags"`
	Fields      map[string]interface{} `json:"fields"`
	Time        time.Time              `json:"time"`
}

// Topic returns the source topic the point was relayed from
func (p SensorPoint) Topic() string {
	return p.Tags[TopicTag]
}

// AnomalyRecord is a relayed payload that carried an Anomaly verdict
type AnomalyRecord struct {
	Topic      string                 `json:"topic"`
	ReceivedAt time.Time              `json:"received_at"`
	Fields     map[string]interface{} `json:"fields"`
	Payload    map[string]interface{} `json:"payload"`
}
