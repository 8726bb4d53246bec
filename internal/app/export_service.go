package app

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"lumitrack/internal/domain"
	"lumitrack/internal/wire"
)

// Selection narrows an export. Zero values mean "all": an empty DancerID
// exports every known dancer, an empty Channel both channels, nil bounds the
// full stream. FromTs/ToTs form a half-open range [FromTs, ToTs).
type Selection struct {
	DancerID string
	Channel  domain.Channel
	FromTs   *int64
	ToTs     *int64
}

func (sel Selection) bounded() bool {
	return sel.FromTs != nil || sel.ToTs != nil
}

// ExportService serializes store contents back into the upload wire format.
type ExportService struct {
	telemetry domain.TelemetryRepository
}

// NewExportService creates an ExportService backed by the given store.
func NewExportService(telemetry domain.TelemetryRepository) *ExportService {
	return &ExportService{telemetry: telemetry}
}

// Export streams the selected samples to w as a wire-format payload. Output
// is produced record by record, so writing begins before the full selection
// has been read, and it is byte-for-byte valid upload input. An empty
// selection produces a valid empty payload, not an error.
func (s *ExportService) Export(ctx context.Context, w io.Writer, sel Selection) error {
	keys, err := s.selectKeys(ctx, sel)
	if err != nil {
		return err
	}

	enc := wire.NewEncoder(w)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		samples, err := s.read(ctx, key, sel)
		if err != nil {
			return err
		}
		for i := range samples {
			if err := enc.Write(wire.FromSample(samples[i])); err != nil {
				return fmt.Errorf("export %s: %w", key, err)
			}
		}
	}
	return enc.Close()
}

// DancerChannelData returns the full stored stream for one dancer on one
// channel, failing with domain.ErrNotFound when there is no data at all for
// that key.
func (s *ExportService) DancerChannelData(ctx context.Context, dancerID string, channel domain.Channel) ([]domain.SensorSample, error) {
	if dancerID == "" {
		return nil, fmt.Errorf("%w: empty dancer id", domain.ErrInvalidInput)
	}
	if !channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidInput, channel)
	}
	samples, err := s.telemetry.ReadAll(ctx, dancerID, channel)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no %s data for dancer %q", domain.ErrNotFound, channel, dancerID)
	}
	return samples, nil
}

// selectKeys resolves the selection to a deterministic, sorted partition
// list so export output is stable for a given store state.
func (s *ExportService) selectKeys(ctx context.Context, sel Selection) ([]domain.PartitionKey, error) {
	if sel.Channel != "" && !sel.Channel.Valid() {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidInput, sel.Channel)
	}

	var keys []domain.PartitionKey
	switch {
	case sel.DancerID != "" && sel.Channel != "":
		keys = []domain.PartitionKey{{DancerID: sel.DancerID, Channel: sel.Channel}}
	case sel.DancerID != "":
		for _, ch := range domain.Channels {
			keys = append(keys, domain.PartitionKey{DancerID: sel.DancerID, Channel: ch})
		}
	default:
		known, err := s.telemetry.Keys(ctx)
		if err != nil {
			return nil, err
		}
		for _, key := range known {
			if sel.Channel != "" && key.Channel != sel.Channel {
				continue
			}
			keys = append(keys, key)
		}
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DancerID != keys[j].DancerID {
			return keys[i].DancerID < keys[j].DancerID
		}
		return keys[i].Channel < keys[j].Channel
	})
	return keys, nil
}

func (s *ExportService) read(ctx context.Context, key domain.PartitionKey, sel Selection) ([]domain.SensorSample, error) {
	if !sel.bounded() {
		return s.telemetry.ReadAll(ctx, key.DancerID, key.Channel)
	}
	from := int64(math.MinInt64)
	if sel.FromTs != nil {
		from = *sel.FromTs
	}
	to := int64(math.MaxInt64)
	if sel.ToTs != nil {
		to = *sel.ToTs
	}
	return s.telemetry.ReadRange(ctx, key.DancerID, key.Channel, from, to)
}
