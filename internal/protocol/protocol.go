// Package protocol defines the JSON frames exchanged between location clients
// and the hub. Every frame is an envelope carrying an event name and its data.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Event names used on the wire.
const (
	EventSendLocation     = "send-location"
	EventReceiveLocation  = "receive-location"
	EventUserDisconnected = "user-disconnected"
)

// ErrInvalidPayload marks a frame that cannot be interpreted as a location update.
var ErrInvalidPayload = errors.New("invalid payload")

// Event is the envelope of every frame.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Location is the data of a send-location frame.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ReceiveLocation is the data of a receive-location frame.
type ReceiveLocation struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// locationFields uses pointers so that missing coordinates can be told apart
// from zero.
type locationFields struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Decode parses the envelope of a frame.
func Decode(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Name == "" {
		return Event{}, fmt.Errorf("%w: missing event name", ErrInvalidPayload)
	}
	return ev, nil
}

// DecodeLocation parses a send-location frame and validates its coordinates.
func DecodeLocation(raw []byte) (Location, error) {
	ev, err := Decode(raw)
	if err != nil {
		return Location{}, err
	}
	if ev.Name != EventSendLocation {
		return Location{}, fmt.Errorf("%w: unexpected event %q", ErrInvalidPayload, ev.Name)
	}
	return ParseLocation(ev.Data)
}

// ParseLocation validates the data of a send-location frame.
func ParseLocation(data json.RawMessage) (Location, error) {
	if len(data) == 0 {
		return Location{}, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}

	var fields locationFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return Location{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if fields.Latitude == nil || fields.Longitude == nil {
		return Location{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidPayload)
	}

	loc := Location{Latitude: *fields.Latitude, Longitude: *fields.Longitude}
	if err := loc.Validate(); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// Validate checks that both coordinates are finite and within geographic range.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsInf(l.Latitude, 0) ||
		math.IsNaN(l.Longitude) || math.IsInf(l.Longitude, 0) {
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidPayload)
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidPayload, l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidPayload, l.Longitude)
	}
	return nil
}

// Encode wraps data in an envelope named name.
func Encode(name string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return json.Marshal(Event{Name: name, Data: payload})
}

// EncodeSendLocation builds the frame a client sends to report its position.
func EncodeSendLocation(latitude, longitude float64) ([]byte, error) {
	return Encode(EventSendLocation, Location{Latitude: latitude, Longitude: longitude})
}

// EncodeReceiveLocation builds the frame broadcast for a position update.
func EncodeReceiveLocation(id string, latitude, longitude float64) ([]byte, error) {
	return Encode(EventReceiveLocation, ReceiveLocation{ID: id, Latitude: latitude, Longitude: longitude})
}

// EncodeUserDisconnected builds the frame broadcast when a session goes away.
// Its data is the bare id string.
func EncodeUserDisconnected(id string) ([]byte, error) {
	return Encode(EventUserDisconnected, id)
}

// ParseReceiveLocation decodes the data of a receive-location frame.
func ParseReceiveLocation(data json.RawMessage) (ReceiveLocation, error) {
	var rl ReceiveLocation
	if err := json.Unmarshal(data, &rl); err != nil {
		return ReceiveLocation{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return rl, nil
}

// ParseUserDisconnected decodes the data of a user-disconnected frame.
func ParseUserDisconnected(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return id, nil
}
