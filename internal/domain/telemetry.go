package domain

import (
	"context"
	"fmt"
	"math"
)

// Channel is the sensor modality of a telemetry stream.
type Channel string

const (
	// ChannelFiber is the fiber-optic costume sensor channel. Sample values
	// are intensities in [0, 1].
	ChannelFiber Channel = "fiber"
	// ChannelLED is the LED costume sensor channel. Sample values are byte
	// levels: integral and in [0, 255].
	ChannelLED Channel = "led"
)

// Channels lists every valid channel.
var Channels = []Channel{ChannelFiber, ChannelLED}

// Valid reports whether c is a known channel tag.
func (c Channel) Valid() bool {
	return c == ChannelFiber || c == ChannelLED
}

// ParseChannel maps a wire-format channel tag to a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, s)
	}
	return c, nil
}

// SensorSample is one immutable timestamped reading for a dancer on one
// channel. Samples are uniquely identified by (dancer id, channel,
// timestamp); duplicates resolve last-write-wins.
type SensorSample struct {
	DancerID  string
	Channel   Channel
	Timestamp int64 // milliseconds, uploader-supplied, ordering-only
	Data      []float64
}

// ValidateData checks the value vector against the channel's rules.
func (s *SensorSample) ValidateData() error {
	if len(s.Data) == 0 {
		return fmt.Errorf("%w: empty data vector", ErrInvalidInput)
	}
	for i, v := range s.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: data[%d] is not finite", ErrInvalidInput, i)
		}
		switch s.Channel {
		case ChannelFiber:
			if v < 0 || v > 1 {
				return fmt.Errorf("%w: fiber data[%d]=%v outside [0,1]", ErrInvalidInput, i, v)
			}
		case ChannelLED:
			if v != math.Trunc(v) || v < 0 || v > 255 {
				return fmt.Errorf("%w: led data[%d]=%v not an integer in [0,255]", ErrInvalidInput, i, v)
			}
		default:
			return fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, s.Channel)
		}
	}
	return nil
}

// PartitionKey identifies one independently writable telemetry stream.
type PartitionKey struct {
	DancerID string
	Channel  Channel
}

func (k PartitionKey) String() string {
	return k.DancerID + "/" + string(k.Channel)
}

// AppendResult reports what one Append call did to its partition.
type AppendResult struct {
	Inserted    int
	Overwritten int
}

// ValidateBatch checks the preconditions shared by every TelemetryRepository
// implementation: all samples belong to (dancerID, channel) and timestamps
// are non-decreasing in call order.
func ValidateBatch(dancerID string, channel Channel, samples []SensorSample) error {
	if dancerID == "" {
		return fmt.Errorf("%w: empty dancer id", ErrInvalidInput)
	}
	if !channel.Valid() {
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, channel)
	}
	for i := range samples {
		s := &samples[i]
		if s.DancerID != dancerID {
			return fmt.Errorf("%w: sample %d dancer %q does not match batch dancer %q",
				ErrInvalidInput, i, s.DancerID, dancerID)
		}
		if s.Channel != channel {
			return fmt.Errorf("%w: sample %d channel %q does not match batch channel %q",
				ErrInvalidInput, i, s.Channel, channel)
		}
		if i > 0 && s.Timestamp < samples[i-1].Timestamp {
			return fmt.Errorf("%w: timestamps decrease at sample %d", ErrInvalidInput, i)
		}
	}
	return nil
}

// TelemetryRepository is the port for the append-only, per-(dancer, channel)
// ordered sample store.
type TelemetryRepository interface {
	// Append durably stores all samples for one (dancer, channel) partition
	// atomically: either every sample in the call lands or none do, even
	// under concurrent appends to other partitions. Duplicate (dancer,
	// channel, timestamp) keys, within the call or against stored data,
	// resolve last-write-wins. Fails with ErrInvalidInput on channel or
	// dancer mismatch, or when timestamps decrease within the call.
	Append(ctx context.Context, dancerID string, channel Channel, samples []SensorSample) (AppendResult, error)
	// ReadAll returns the full stream in timestamp order; an empty slice,
	// not an error, when the partition has no data.
	ReadAll(ctx context.Context, dancerID string, channel Channel) ([]SensorSample, error)
	// ReadRange is ReadAll restricted to the half-open range [fromTs, toTs).
	ReadRange(ctx context.Context, dancerID string, channel Channel, fromTs, toTs int64) ([]SensorSample, error)
	// Keys enumerates every partition holding at least one sample.
	Keys(ctx context.Context) ([]PartitionKey, error)
}
