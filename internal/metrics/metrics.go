package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easel_connections_total",
		Help: "WebSocket connections accepted, by channel type.",
	}, []string{"channel"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easel_active_connections",
		Help: "Currently open WebSocket connections.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "easel_active_rooms",
		Help: "Rooms currently held in the registry.",
	})

	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "easel_rate_limited_total",
		Help: "Admissions rejected by the sliding-window limiter, by scope.",
	}, []string{"scope"})

	PresenceBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "easel_presence_broadcasts_total",
		Help: "Active-users broadcasts sent to presence channels.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
