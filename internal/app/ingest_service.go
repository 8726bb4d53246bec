package app

import (
	"context"
	"io"
	"sort"

	"github.com/rs/zerolog"

	"lumitrack/internal/domain"
	"lumitrack/internal/metrics"
	"lumitrack/internal/wire"
)

// maxRejectionDetails caps the per-record rejection reasons echoed back in a
// summary. Counts are always exact; only the detail list is truncated.
const maxRejectionDetails = 100

// RejectedRecord describes one record the ingestion pipeline refused.
type RejectedRecord struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BatchFailure describes one (dancer, channel) batch whose store append
// failed. Sibling batches in the same request are unaffected.
type BatchFailure struct {
	Dancer  string `json:"dancer"`
	Channel string `json:"channel"`
	Count   int    `json:"count"`
	Reason  string `json:"reason"`
}

// IngestSummary reports what one upload call did.
type IngestSummary struct {
	Accepted   int              `json:"accepted"`
	Rejected   int              `json:"rejected"`
	PerKey     map[string]int   `json:"per_key"`
	Rejections []RejectedRecord `json:"rejections,omitempty"`
	Failures   []BatchFailure   `json:"failures,omitempty"`
}

// IngestService parses bulk upload payloads, validates them record by record
// and feeds well-formed batches to the telemetry store.
type IngestService struct {
	telemetry domain.TelemetryRepository
	log       zerolog.Logger
}

// NewIngestService creates an IngestService backed by the given store.
func NewIngestService(telemetry domain.TelemetryRepository, log zerolog.Logger) *IngestService {
	return &IngestService{telemetry: telemetry, log: log}
}

// Ingest reads a wire-format payload from r and stores it. The payload is
// decoded in a streaming fashion and never buffered as a whole.
//
// Failure handling is layered: a structurally unparsable payload fails the
// whole call with domain.ErrInvalidInput; malformed individual records are
// counted as rejections without aborting their siblings; a store failure on
// one (dancer, channel) batch is reported in the summary while the remaining
// batches still proceed.
func (s *IngestService) Ingest(ctx context.Context, r io.Reader) (*IngestSummary, error) {
	summary := &IngestSummary{PerKey: make(map[string]int)}

	batches := make(map[domain.PartitionKey][]domain.SensorSample)
	var order []domain.PartitionKey

	dec := wire.NewDecoder(r)
	for index := 0; ; index++ {
		raw, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := wire.ParseRecord(raw)
		if err != nil {
			s.reject(summary, index, err)
			continue
		}
		sample, err := rec.Sample()
		if err != nil {
			s.reject(summary, index, err)
			continue
		}
		key := domain.PartitionKey{DancerID: sample.DancerID, Channel: sample.Channel}
		if _, seen := batches[key]; !seen {
			order = append(order, key)
		}
		batches[key] = append(batches[key], sample)
	}

	for _, key := range order {
		if err := ctx.Err(); err != nil {
			// Per-key atomicity bounds the blast radius of an aborted
			// request: batches already applied stay, the rest never start.
			return nil, err
		}
		batch := batches[key]
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].Timestamp < batch[j].Timestamp
		})
		res, err := s.telemetry.Append(ctx, key.DancerID, key.Channel, batch)
		if err != nil {
			s.log.Warn().Err(err).
				Str("dancer", key.DancerID).
				Str("channel", string(key.Channel)).
				Msg("batch append failed")
			summary.Failures = append(summary.Failures, BatchFailure{
				Dancer:  key.DancerID,
				Channel: string(key.Channel),
				Count:   len(batch),
				Reason:  err.Error(),
			})
			continue
		}
		summary.Accepted += len(batch)
		summary.PerKey[key.String()] += len(batch)
		metrics.SamplesAccepted.WithLabelValues(string(key.Channel)).Add(float64(len(batch)))
		s.log.Debug().
			Str("dancer", key.DancerID).
			Str("channel", string(key.Channel)).
			Int("samples", len(batch)).
			Int("inserted", res.Inserted).
			Int("overwritten", res.Overwritten).
			Msg("batch stored")
	}

	return summary, nil
}

func (s *IngestService) reject(summary *IngestSummary, index int, err error) {
	summary.Rejected++
	metrics.SamplesRejected.Inc()
	if len(summary.Rejections) < maxRejectionDetails {
		summary.Rejections = append(summary.Rejections, RejectedRecord{
			Index:  index,
			Reason: err.Error(),
		})
	}
}
