package internal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver counts chunk lifecycle events of a session
type PrometheusObserver struct {
	completed *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	skipped   prometheus.Counter
	retried   prometheus.Counter
	corrupted *prometheus.CounterVec
}

// NewPrometheusObserver creates the counters and registers them with registerer
// (the default registerer when nil)
func NewPrometheusObserver(registerer prometheus.Registerer) (*PrometheusObserver, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sophon_chunks_completed_total", Help: "Chunks written by source"},
			[]string{"source"}),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sophon_chunk_bytes_total", Help: "Decompressed chunk bytes written by source"},
			[]string{"source"}),
		skipped: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "sophon_chunks_skipped_total", Help: "Chunks already present at the destination"}),
		retried: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "sophon_chunk_retries_total", Help: "Chunk attempts retried after a transient failure"}),
		corrupted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sophon_chunks_corrupted_total", Help: "Chunk attempts failing verification by source"},
			[]string{"source"}),
	}

	for _, c := range []prometheus.Collector{o.completed, o.bytes, o.skipped, o.retried, o.corrupted} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *PrometheusObserver) ChunkCompleted(_ string, chunk *SophonChunk, source SourceStreamType) {
	o.completed.WithLabelValues(source.String()).Inc()
	o.bytes.WithLabelValues(source.String()).Add(float64(chunk.ChunkSizeDecompressed))
}

func (o *PrometheusObserver) ChunkSkipped(string, *SophonChunk) {
	o.skipped.Inc()
}

func (o *PrometheusObserver) ChunkRetried(string, *SophonChunk, error) {
	o.retried.Inc()
}

func (o *PrometheusObserver) ChunkCorrupted(_ string, _ *SophonChunk, source SourceStreamType) {
	o.corrupted.WithLabelValues(source.String()).Inc()
}
