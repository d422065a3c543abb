package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botfleet_deployments_total",
			Help: "Total number of deployment attempts by final state",
		},
		[]string{"result"},
	)

	DeploymentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botfleet_deployment_duration_seconds",
			Help:    "Wall-clock duration of deployment attempts in seconds",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	RollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botfleet_rollbacks_total",
			Help: "Total number of rollbacks performed",
		},
	)

	// Provisioning metrics
	TenantsProvisioned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botfleet_tenants_provisioned_total",
			Help: "Total number of tenant databases created",
		},
	)

	MigrationsStamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "botfleet_migrations_stamped_total",
			Help: "Total number of tenants whose migration history was stamped without running migrations",
		},
	)

	// Health check metrics
	HealthCheckRounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botfleet_health_check_rounds_total",
			Help: "Total number of health check rounds by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DeploymentsTotal)
	prometheus.MustRegister(DeploymentDuration)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(TenantsProvisioned)
	prometheus.MustRegister(MigrationsStamped)
	prometheus.MustRegister(HealthCheckRounds)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
