package monitor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metric names written by the textfile exporter
const (
	MetricPublished      = "stdoutmq_messages_published_total"
	MetricPublishedBytes = "stdoutmq_published_bytes_total"
	MetricFailures       = "stdoutmq_write_failures_total"
	MetricEvents         = "stdoutmq_connection_events_total"
	MetricStartTime      = "stdoutmq_start_time_seconds"
)

// Families converts the current counters into Prometheus metric families,
// sorted by name. Labelled families without samples are left out.
func (c *MetricsCollector) Families() []*dto.MetricFamily {
	s := c.GetMetricsSummary()

	all := []*dto.MetricFamily{
		labelledCounter(MetricPublished, "Messages confirmed by the broker.", "queue", s.Published),
		counter(MetricPublishedBytes, "Bytes of confirmed message bodies.", float64(s.PublishedBytes)),
		labelledCounter(MetricFailures, "Records that could not be shipped.", "reason", s.Failures),
		labelledCounter(MetricEvents, "Broker connection lifecycle events.", "event", s.ConnectionEvents),
		{
			Name: proto.String(MetricStartTime),
			Help: proto.String("Unix time the shipper started."),
			Type: dto.MetricType_GAUGE.Enum(),
			Metric: []*dto.Metric{{
				Gauge: &dto.Gauge{Value: proto.Float64(float64(s.StartedAt.UnixNano()) / 1e9)},
			}},
		},
	}

	families := all[:0]
	for _, mf := range all {
		if len(mf.Metric) > 0 {
			families = append(families, mf)
		}
	}

	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	return families
}

// WriteText writes the Prometheus text exposition of the counters to w
func (c *MetricsCollector) WriteText(w io.Writer) error {
	for _, mf := range c.Families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteTextfile writes the counters to path for the node exporter textfile
// collector. The file is replaced atomically.
func (c *MetricsCollector) WriteTextfile(path string) error {
	var buf bytes.Buffer
	if err := c.WriteText(&buf); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}

func counter(name, help string, value float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Counter: &dto.Counter{Value: proto.Float64(value)},
		}},
	}
}

func labelledCounter(name, help, label string, values map[string]int64) *dto.MetricFamily {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
	}
	for _, k := range keys {
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label:   []*dto.LabelPair{{Name: proto.String(label), Value: proto.String(k)}},
			Counter: &dto.Counter{Value: proto.Float64(float64(values[k]))},
		})
	}
	return mf
}
