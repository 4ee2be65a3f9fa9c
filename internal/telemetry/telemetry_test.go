package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indoor-data/personnelloc/internal/rakf"
)

const fullPayload = `{
	"id": "walker_1",
	"x_uwb_pos": 11.0,
	"y_uwb_pos": 20.3,
	"z_uwb_pos": 0.1,
	"x_imu_vel": 0.5,
	"y_imu_vel": -0.2,
	"z_imu_vel": 0.0,
	"data_aggregator_id": 7,
	"timestamp": 1650000000123
}`

func TestDecodeMeasurement(t *testing.T) {
	t.Run("uwb model ignores velocity", func(t *testing.T) {
		m, err := DecodeMeasurement([]byte(fullPayload), 3, rakf.ModelUWB)
		require.NoError(t, err)

		assert.Equal(t, "walker_1", m.PersonnelID)
		assert.Equal(t, int64(1650000000123), m.TimestampMS)
		assert.Equal(t, []float64{11.0, 20.3, 0.1}, m.Position)
		assert.Nil(t, m.Velocity)
	})

	t.Run("fused model carries velocity", func(t *testing.T) {
		m, err := DecodeMeasurement([]byte(fullPayload), 3, rakf.ModelUWBIMU)
		require.NoError(t, err)

		assert.Equal(t, []float64{0.5, -0.2, 0.0}, m.Velocity)
	})

	t.Run("two dimensional track takes the first two axes", func(t *testing.T) {
		m, err := DecodeMeasurement([]byte(fullPayload), 2, rakf.ModelUWB)
		require.NoError(t, err)

		assert.Equal(t, []float64{11.0, 20.3}, m.Position)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := DecodeMeasurement([]byte(`{"x_uwb_pos":1,"y_uwb_pos":2,"timestamp":1}`), 2, rakf.ModelUWB)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("missing timestamp", func(t *testing.T) {
		_, err := DecodeMeasurement([]byte(`{"id":"w","x_uwb_pos":1,"y_uwb_pos":2}`), 2, rakf.ModelUWB)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("missing axis for configured dimension", func(t *testing.T) {
		_, err := DecodeMeasurement([]byte(`{"id":"w","x_uwb_pos":1,"y_uwb_pos":2,"timestamp":1}`), 3, rakf.ModelUWB)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("fused model requires velocity fields", func(t *testing.T) {
		_, err := DecodeMeasurement([]byte(`{"id":"w","x_uwb_pos":1,"y_uwb_pos":2,"timestamp":1}`), 2, rakf.ModelUWBIMU)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := DecodeMeasurement([]byte(`{"id":`), 2, rakf.ModelUWB)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestEncodeEstimate(t *testing.T) {
	data, err := EncodeEstimate(rakf.Estimate{
		PersonnelID: "walker_1",
		TimestampMS: 1650000000123,
		Position:    []float64{10.4, 20.1, 0.05},
		Dimension:   3,
	})
	require.NoError(t, err)

	var msg EstimateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "walker_1", msg.ID)
	assert.Equal(t, 10.4, msg.XEstPos)
	assert.Equal(t, 20.1, msg.YEstPos)
	assert.Equal(t, 0.05, msg.ZEstPos)
	assert.Equal(t, 3, msg.Dimension)
	assert.Equal(t, int64(1650000000123), msg.Timestamp)
}

func TestEncodeEstimateTwoDimensions(t *testing.T) {
	data, err := EncodeEstimate(rakf.Estimate{
		PersonnelID: "walker_2",
		TimestampMS: 42,
		Position:    []float64{1.5, -2.5},
		Dimension:   2,
	})
	require.NoError(t, err)

	var msg EstimateMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, 1.5, msg.XEstPos)
	assert.Equal(t, -2.5, msg.YEstPos)
	assert.Zero(t, msg.ZEstPos)
}
