// SPDX-License-Identifier: MIT

package health

import "github.com/prometheus/client_golang/prometheus"

// collector adapts a MetricsProvider to prometheus.Collector, pulling a
// fresh reading on every scrape rather than caching between requests.
type collector struct {
	metrics       MetricsProvider
	videoFrames   *prometheus.Desc
	encBytes      *prometheus.Desc
	audioChunks   *prometheus.Desc
	dropCount     *prometheus.Desc
	videoPTSDelta *prometheus.Desc
	audioPTSDelta *prometheus.Desc
	queueSize     *prometheus.Desc
	queueCapacity *prometheus.Desc
}

func newCollector(metrics MetricsProvider) *collector {
	return &collector{
		metrics:       metrics,
		videoFrames:   prometheus.NewDesc("avcapd_video_frames_total", "Total encoded video frames written to the H264 sink.", nil, nil),
		encBytes:      prometheus.NewDesc("avcapd_encoded_bytes_total", "Total encoded video bytes written to the H264 sink.", nil, nil),
		audioChunks:   prometheus.NewDesc("avcapd_audio_chunks_total", "Total PCM chunks written to the audio sink.", nil, nil),
		dropCount:     prometheus.NewDesc("avcapd_drops_total", "Total dropped frames/chunks: sequence gap, full queue, or single-item encode failure.", nil, nil),
		videoPTSDelta: prometheus.NewDesc("avcapd_video_pts_delta_microseconds", "Most recent inter-packet PTS delta observed at the H264 sink.", nil, nil),
		audioPTSDelta: prometheus.NewDesc("avcapd_audio_pts_delta_microseconds", "Most recent inter-chunk PTS delta observed at the PCM sink.", nil, nil),
		queueSize:     prometheus.NewDesc("avcapd_queue_depth", "Current number of items queued.", []string{"queue"}, nil),
		queueCapacity: prometheus.NewDesc("avcapd_queue_capacity", "Configured capacity of the queue.", []string{"queue"}, nil),
	}
}

func newRegistry(metrics MetricsProvider) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newCollector(metrics))
	return reg
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.videoFrames
	ch <- c.encBytes
	ch <- c.audioChunks
	ch <- c.dropCount
	ch <- c.videoPTSDelta
	ch <- c.audioPTSDelta
	ch <- c.queueSize
	ch <- c.queueCapacity
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.metrics == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.videoFrames, prometheus.CounterValue, float64(c.metrics.VideoFrames()))
	ch <- prometheus.MustNewConstMetric(c.encBytes, prometheus.CounterValue, float64(c.metrics.EncBytes()))
	ch <- prometheus.MustNewConstMetric(c.audioChunks, prometheus.CounterValue, float64(c.metrics.AudioChunks()))
	ch <- prometheus.MustNewConstMetric(c.dropCount, prometheus.CounterValue, float64(c.metrics.DropCount()))
	ch <- prometheus.MustNewConstMetric(c.videoPTSDelta, prometheus.GaugeValue, float64(c.metrics.VideoPTSDeltaUs()))
	ch <- prometheus.MustNewConstMetric(c.audioPTSDelta, prometheus.GaugeValue, float64(c.metrics.AudioPTSDeltaUs()))

	for _, q := range c.metrics.QueueDepths() {
		ch <- prometheus.MustNewConstMetric(c.queueSize, prometheus.GaugeValue, float64(q.Size), q.Name)
		ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(q.Capacity), q.Name)
	}
}
