package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/moffa90/go-nvflash/protocol"
	"github.com/moffa90/go-nvflash/transport"
)

// sessionMetrics collects the counters of one run. They are written in the
// text exposition format for the node-exporter textfile collector.
type sessionMetrics struct {
	reg        *prometheus.Registry
	commands   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	downloaded prometheus.Counter
	opDuration *prometheus.HistogramVec
}

func newSessionMetrics() *sessionMetrics {
	m := &sessionMetrics{
		reg: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvflash_commands_total",
				Help: "Total number of protocol commands sent by kind.",
			},
			[]string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nvflash_status_failures_total",
				Help: "Total number of status replies other than success by status.",
			},
			[]string{"status"},
		),
		downloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nvflash_bytes_downloaded_total",
			Help: "Total number of payload bytes sent to the device.",
		}),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nvflash_op_duration_seconds",
				Help:    "Duration of operations by name and result in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"op", "result"},
		),
	}
	m.reg.MustRegister(m.commands, m.failures, m.downloaded, m.opDuration)
	return m
}

// observe records one finished operation. It matches flash.OpObserver.
func (m *sessionMetrics) observe(op string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.opDuration.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

func (m *sessionMetrics) write(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}

// instrument wraps t so that its traffic is counted.
func (m *sessionMetrics) instrument(t transport.Transport) transport.Transport {
	return &instrumented{Transport: t, m: m}
}

type instrumented struct {
	transport.Transport
	m *sessionMetrics
}

func (t *instrumented) CommandSend(ctx context.Context, cmd protocol.Command) error {
	t.m.commands.WithLabelValues(cmd.Kind().String()).Inc()
	return t.Transport.CommandSend(ctx, cmd)
}

func (t *instrumented) CommandReceive(ctx context.Context) (protocol.Command, error) {
	cmd, err := t.Transport.CommandReceive(ctx)
	if s, ok := cmd.(*protocol.Status); ok && s.Code != protocol.StatusOk {
		t.m.failures.WithLabelValues(s.Code.String()).Inc()
	}
	return cmd, err
}

func (t *instrumented) DataSend(ctx context.Context, data []byte) error {
	if err := t.Transport.DataSend(ctx, data); err != nil {
		return err
	}
	t.m.downloaded.Add(float64(len(data)))
	return nil
}
