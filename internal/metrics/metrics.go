package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DeliveryResultDelivered = "delivered"
	DeliveryResultBuffered  = "buffered"
	DeliveryResultDropped   = "dropped"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pingtel_build_info",
		Help: "Build information of the pingtel agent",
	}, []string{"version"})

	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pingtel_probes_total",
		Help: "Total number of probes by target and observable type",
	}, []string{"target", "observable_type"})

	ProbeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pingtel_probe_errors_total",
		Help: "Total number of probes that could not be issued",
	}, []string{"target"})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pingtel_deliveries_total",
		Help: "Total number of first delivery attempts by result",
	}, []string{"result"})

	BufferRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pingtel_buffer_records",
		Help: "Number of records waiting in the durable buffer",
	})

	BufferRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pingtel_buffer_rotations_total",
		Help: "Total number of buffer rotations caused by exceeding capacity",
	})

	BufferDiscardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pingtel_buffer_discarded_total",
		Help: "Total number of buffered records discarded by rotation",
	})

	DrainPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pingtel_drain_passes_total",
		Help: "Total number of non-empty drain passes",
	})

	DrainDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pingtel_drain_delivered_total",
		Help: "Total number of buffered records delivered by drain passes",
	})

	AuthRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pingtel_auth_requests_total",
		Help: "Total number of token requests by status",
	}, []string{"status"})
)
