package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "questrunner_build_info",
			Help: "Build information of the quest runner",
		},
		[]string{"version", "commit", "date"},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questrunner_tasks_total",
			Help: "Total number of plan steps executed, by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	TaskRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questrunner_task_retries_total",
			Help: "Total number of retried task attempts",
		},
		[]string{"task"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questrunner_task_duration_seconds",
			Help:    "Duration of one plan step including retries",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		},
		[]string{"task"},
	)

	WalletRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questrunner_wallet_runs_total",
			Help: "Total number of wallet runs, by final state",
		},
		[]string{"state", "fatal"},
	)

	WalletDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "questrunner_wallet_duration_seconds",
			Help:    "Duration of one wallet run",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12), // 5s to ~5.7 hours
		},
	)

	WalletsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "questrunner_wallets_active",
			Help: "Number of wallets currently running",
		},
	)

	SpareTokensRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "questrunner_spare_tokens_remaining",
			Help: "Number of spare social-auth tokens left in the pool",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questrunner_notifications_total",
			Help: "Total number of notifications sent, by channel and status",
		},
		[]string{"channel", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "questrunner_http_requests_total",
			Help: "Total number of status server requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "questrunner_http_request_duration_seconds",
			Help:    "Duration of status server requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
