// Package feed ingests tag position messages: it reads raw payloads from a
// source (UDP, serial, capture file, remote websocket or a synthetic
// generator), fans them out to subscribers and decodes them into position
// events for the view controller and the history store.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/tagtrack/internal/geometry"
	"github.com/banshee-data/tagtrack/internal/tags"
)

// ErrMalformed is returned by Decode for payloads that cannot become a
// position event. Malformed payloads are dropped before they reach the
// controller.
var ErrMalformed = errors.New("malformed position message")

// Message is the JSON datagram emitted by the UWB anchors.
//
//	{"uid":"ea22","deviceName":"tag-7","data":{"mapId":1,"pos":[x,y,z],"time":1700000000000}}
type Message struct {
	UID        string      `json:"uid"`
	DeviceName string      `json:"deviceName,omitempty"`
	Name       string      `json:"name,omitempty"`
	Data       MessageData `json:"data"`
}

// MessageData is the reading carried by a Message. Time is epoch
// milliseconds; zero means the sender did not stamp the reading.
type MessageData struct {
	MapID    int       `json:"mapId,omitempty"`
	Pos      []float64 `json:"pos"`
	PosNoise []float64 `json:"posNoise,omitempty"`
	Time     int64     `json:"time,omitempty"`
}

// Decode parses one payload into a position event. Readings without a
// timestamp are stamped with receivedAtMs.
func Decode(payload []byte, receivedAtMs int64) (tags.PositionEvent, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return tags.PositionEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	uid := strings.TrimSpace(msg.UID)
	if uid == "" {
		return tags.PositionEvent{}, fmt.Errorf("%w: missing uid", ErrMalformed)
	}
	if len(msg.Data.Pos) < 2 {
		return tags.PositionEvent{}, fmt.Errorf("%w: uid %s has %d coordinates", ErrMalformed, uid, len(msg.Data.Pos))
	}
	for _, c := range msg.Data.Pos {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return tags.PositionEvent{}, fmt.Errorf("%w: uid %s has a non-finite coordinate", ErrMalformed, uid)
		}
	}

	ev := tags.PositionEvent{
		EntityID:    uid,
		Label:       msg.DeviceName,
		Position:    geometry.WorldPoint{X: msg.Data.Pos[0], Y: msg.Data.Pos[1]},
		TimestampMs: msg.Data.Time,
	}
	if ev.Label == "" {
		ev.Label = msg.Name
	}
	if len(msg.Data.Pos) > 2 {
		ev.Z = msg.Data.Pos[2]
	}
	if ev.TimestampMs <= 0 {
		ev.TimestampMs = receivedAtMs
	}
	return ev, nil
}

// Encode renders ev in the wire format accepted by Decode.
func Encode(ev tags.PositionEvent) ([]byte, error) {
	return json.Marshal(Message{
		UID:        ev.EntityID,
		DeviceName: ev.Label,
		Data: MessageData{
			Pos:  []float64{ev.Position.X, ev.Position.Y, ev.Z},
			Time: ev.TimestampMs,
		},
	})
}
