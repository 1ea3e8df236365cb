package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/tags"
)

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"uid":"ea22","deviceName":"Bessie","data":{"mapId":1,"pos":[1.5,2.25,0.8],"time":1700000000123}}`), 5)
	require.NoError(t, err)
	assert.Equal(t, tags.PositionEvent{
		EntityID:    "ea22",
		Label:       "Bessie",
		Position:    geometry.WorldPoint{X: 1.5, Y: 2.25},
		Z:           0.8,
		TimestampMs: 1700000000123,
	}, ev)
}

func TestDecode_MissingTimeUsesReceiveTime(t *testing.T) {
	ev, err := Decode([]byte(`{"uid":"A","data":{"pos":[1,2]}}`), 42_000)
	require.NoError(t, err)
	assert.EqualValues(t, 42_000, ev.TimestampMs)
	assert.Zero(t, ev.Z)
	assert.Empty(t, ev.Label)
}

func TestDecode_LabelFallsBackToName(t *testing.T) {
	ev, err := Decode([]byte(`{"uid":"A","name":"Daisy","data":{"pos":[1,2],"time":10}}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "Daisy", ev.Label)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `uid=A x=1`},
		{"truncated", `{"uid":"A","data":{"pos":[1,`},
		{"missing uid", `{"data":{"pos":[1,2],"time":1}}`},
		{"blank uid", `{"uid":"  ","data":{"pos":[1,2],"time":1}}`},
		{"no position", `{"uid":"A","data":{"time":1}}`},
		{"one coordinate", `{"uid":"A","data":{"pos":[1],"time":1}}`},
		{"string coordinate", `{"uid":"A","data":{"pos":["1","2"],"time":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.payload), 1)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestEncode_DecodesBack(t *testing.T) {
	in := tags.PositionEvent{EntityID: "B7", Label: "Bella", Position: geometry.WorldPoint{X: -3, Y: 12.5}, Z: 1, TimestampMs: 99}

	payload, err := Encode(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"uid":"B7","deviceName":"Bella","data":{"pos":[-3,12.5,1],"time":99}}`, string(payload))

	out, err := Decode(payload, 0)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
