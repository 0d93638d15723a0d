package compression

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "apptrack_compression_zstd_encoder_gets_total",
			Help: "Pooled zstd encoder checkouts",
		}, func() float64 { return float64(zstdEncoderGets.Load()) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "apptrack_compression_zstd_encoder_new_total",
			Help: "zstd encoders created on pool miss",
		}, func() float64 { return float64(zstdEncoderNews.Load()) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "apptrack_compression_bytes_in_total",
			Help: "Uncompressed bytes handed to Compress",
		}, func() float64 { return float64(bytesIn.Load()) }),

		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "apptrack_compression_bytes_out_total",
			Help: "Compressed bytes produced by Compress",
		}, func() float64 { return float64(bytesOut.Load()) }),
	)
}
