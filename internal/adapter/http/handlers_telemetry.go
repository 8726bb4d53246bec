package adapthttp

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"

	"lumitrack/internal/app"
	"lumitrack/internal/domain"
	"lumitrack/internal/wire"
)

func (s *Server) handleUploadData(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			writeError(w, fmt.Errorf("%w: malformed gzip body", domain.ErrInvalidInput))
			return
		}
		defer gz.Close() //nolint:errcheck
		body = gz
	}

	summary, err := s.ingest.Ingest(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExportData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sel := app.Selection{
		DancerID: q.Get("dancer"),
		Channel:  domain.Channel(q.Get("channel")),
	}
	if sel.Channel != "" && !sel.Channel.Valid() {
		writeError(w, fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidInput, sel.Channel))
		return
	}
	var err error
	if sel.FromTs, err = int64Query(r, "from"); err != nil {
		writeError(w, err)
		return
	}
	if sel.ToTs, err = int64Query(r, "to"); err != nil {
		writeError(w, err)
		return
	}

	cw := &countingWriter{w: w}
	var out io.Writer = cw
	var gz *gzip.Writer
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz = gzip.NewWriter(cw)
		out = gz
	}

	err = s.export.Export(r.Context(), out, sel)
	if err != nil && cw.n == 0 {
		// Nothing reached the wire yet, so the failure still maps to a
		// proper status.
		w.Header().Del("Content-Encoding")
		writeError(w, err)
		return
	}
	if err != nil {
		// The status line is committed once streaming starts. A failure here
		// can only truncate the payload, which the decoder rejects on
		// re-ingest.
		s.log.Error().Err(err).Msg("export aborted mid-stream")
	}
	if gz != nil {
		_ = gz.Close()
	}
}

// countingWriter tracks whether any response bytes have been written.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (s *Server) handleDancerFiberData(w http.ResponseWriter, r *http.Request) {
	s.dancerChannelData(w, r, domain.ChannelFiber)
}

func (s *Server) handleDancerLEDData(w http.ResponseWriter, r *http.Request) {
	s.dancerChannelData(w, r, domain.ChannelLED)
}

func (s *Server) dancerChannelData(w http.ResponseWriter, r *http.Request, channel domain.Channel) {
	var req struct {
		Dancer string `json:"dancer"`
	}
	if err := parseJSON(r, &req); err != nil {
		writeError(w, domain.ErrInvalidInput)
		return
	}
	samples, err := s.export.DancerChannelData(r.Context(), req.Dancer, channel)
	if err != nil {
		writeError(w, err)
		return
	}

	records := make([]wire.Record, len(samples))
	for i := range samples {
		records[i] = wire.FromSample(samples[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dancer":  req.Dancer,
		"channel": string(channel),
		"records": records,
	})
}
