// Package telemetry defines the wire records exchanged with the broker:
// the raw personnel telemetry consumed from the data aggregator and the
// position estimates published back out. Decoding validates shape here so
// malformed messages are dropped before they can reach a filter.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/indoor-data/personnelloc/internal/rakf"
)

// ErrMalformed reports a telemetry message that is missing required fields
// or does not match the configured track dimension.
var ErrMalformed = errors.New("malformed telemetry message")

// Message is the raw personnel telemetry payload. Fields are pointers so
// a missing key is distinguishable from a zero reading.
type Message struct {
	ID               string   `json:"id"`
	XUWBPos          *float64 `json:"x_uwb_pos,omitempty"`
	YUWBPos          *float64 `json:"y_uwb_pos,omitempty"`
	ZUWBPos          *float64 `json:"z_uwb_pos,omitempty"`
	XIMUVel          *float64 `json:"x_imu_vel,omitempty"`
	YIMUVel          *float64 `json:"y_imu_vel,omitempty"`
	ZIMUVel          *float64 `json:"z_imu_vel,omitempty"`
	DataAggregatorID *int     `json:"data_aggregator_id,omitempty"`
	Timestamp        *int64   `json:"timestamp,omitempty"`
}

// EstimateMessage is the filtered position payload published per step.
type EstimateMessage struct {
	ID        string  `json:"id"`
	XEstPos   float64 `json:"x_est_pos"`
	YEstPos   float64 `json:"y_est_pos"`
	ZEstPos   float64 `json:"z_est_pos"`
	Dimension int     `json:"dimension"`
	Timestamp int64   `json:"timestamp"`
}

// DecodeMeasurement parses a telemetry payload and converts it to a core
// measurement for the given dimension and sensor model. Any missing
// required field yields ErrMalformed.
func DecodeMeasurement(data []byte, dimension int, model rakf.ModelType) (rakf.Measurement, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return rakf.Measurement{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg.ToMeasurement(dimension, model)
}

// ToMeasurement validates the message shape against the track dimension
// and sensor model and produces the core measurement record.
func (m Message) ToMeasurement(dimension int, model rakf.ModelType) (rakf.Measurement, error) {
	if m.ID == "" {
		return rakf.Measurement{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	if m.Timestamp == nil {
		return rakf.Measurement{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}

	pos := [3]*float64{m.XUWBPos, m.YUWBPos, m.ZUWBPos}
	vel := [3]*float64{m.XIMUVel, m.YIMUVel, m.ZIMUVel}
	axisNames := [3]string{"x", "y", "z"}

	position := make([]float64, dimension)
	for i := 0; i < dimension; i++ {
		if pos[i] == nil {
			return rakf.Measurement{}, fmt.Errorf("%w: missing %s_uwb_pos", ErrMalformed, axisNames[i])
		}
		position[i] = *pos[i]
	}

	out := rakf.Measurement{
		PersonnelID: m.ID,
		TimestampMS: *m.Timestamp,
		Position:    position,
	}

	if model == rakf.ModelUWBIMU {
		velocity := make([]float64, dimension)
		for i := 0; i < dimension; i++ {
			if vel[i] == nil {
				return rakf.Measurement{}, fmt.Errorf("%w: missing %s_imu_vel", ErrMalformed, axisNames[i])
			}
			velocity[i] = *vel[i]
		}
		out.Velocity = velocity
	}

	return out, nil
}

// EncodeEstimate serializes an estimate for publication. Axes beyond the
// track dimension are reported as zero, matching the historical payload
// shape consumed by downstream planners.
func EncodeEstimate(est rakf.Estimate) ([]byte, error) {
	msg := EstimateMessage{
		ID:        est.PersonnelID,
		Dimension: est.Dimension,
		Timestamp: est.TimestampMS,
	}
	if est.Dimension > 0 {
		msg.XEstPos = est.Position[0]
	}
	if est.Dimension > 1 {
		msg.YEstPos = est.Position[1]
	}
	if est.Dimension > 2 {
		msg.ZEstPos = est.Position[2]
	}
	return json.Marshal(msg)
}
