package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Live stream metrics
var (
	// LiveSubscribers tracks currently registered SSE and WebSocket subscribers
	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "votespin_live_subscribers",
			Help: "Number of registered live subscribers",
		},
	)

	// SubscribersEvicted counts subscribers dropped because a send failed
	SubscribersEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "votespin_live_subscribers_evicted_total",
			Help: "Subscribers unregistered after a failed or blocked send",
		},
	)

	// Broadcasts counts snapshot broadcasts handed to the hub
	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "votespin_broadcasts_total",
			Help: "Snapshot broadcasts fanned out to subscribers",
		},
	)

	// Heartbeats counts heartbeat rounds
	Heartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "votespin_heartbeats_total",
			Help: "Heartbeat rounds sent to subscribers",
		},
	)
)

// Vote and command metrics
var (
	// VotesTotal tracks accepted vote events by source
	VotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votespin_votes_total",
			Help: "Vote events appended by source",
		},
		[]string{"source"},
	)

	// ResetsTotal counts reset-all operations
	ResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "votespin_resets_total",
			Help: "Reset-all operations committed",
		},
	)

	// CommandsEnqueued tracks commands written by queue and action
	CommandsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votespin_commands_enqueued_total",
			Help: "Commands enqueued by queue and action",
		},
		[]string{"queue", "action"},
	)

	// CommandsDelivered tracks commands handed to pollers by queue and poll mode
	CommandsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votespin_commands_delivered_total",
			Help: "Commands delivered to pollers by queue and mode",
		},
		[]string{"queue", "mode"},
	)

	// ClaimRetries counts claim attempts retried after a transient store error
	ClaimRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votespin_claim_retries_total",
			Help: "Claim attempts that failed transiently and were retried",
		},
		[]string{"queue"},
	)

	// StoreErrors tracks store failures surfaced to callers by kind
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votespin_store_errors_total",
			Help: "Store errors by kind (validation, transient, consistency)",
		},
		[]string{"kind"},
	)
)

// Relay metrics
var (
	// RelayMessages tracks relay traffic by direction (published, received, ignored, failed)
	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votespin_relay_messages_total",
			Help: "Cross-instance relay messages by direction",
		},
		[]string{"direction"},
	)
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks handler latency by route and status code
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "votespin_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"route", "status"},
	)

	// RateLimited counts vote requests rejected by the per-client limiter
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "votespin_rate_limited_total",
			Help: "Requests rejected by the vote rate limiter",
		},
	)
)
