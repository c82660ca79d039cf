// Package metrics exports rewards counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rewards"

type Metrics struct {
	registry          *prometheus.Registry
	pointsAwarded     *prometheus.CounterVec
	pointsSpent       prometheus.Counter
	awardRejections   *prometheus.CounterVec
	checkouts         *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	couponUses        *prometheus.CounterVec
	couponResets      *prometheus.CounterVec
	sweepDuration     *prometheus.HistogramVec
	notificationsSent *prometheus.CounterVec
}

// MustNew registers all collectors on reg and panics on conflict.
func MustNew(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		pointsAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points credited to users, by earning category.",
		}, []string{"category"}),
		pointsSpent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_spent_total",
			Help:      "Points debited from users.",
		}),
		awardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "award_rejections_total",
			Help:      "Award requests refused by daily caps or cooldowns.",
		}, []string{"reason"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by outcome code.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemption_transitions_total",
			Help:      "Redemption lifecycle events by action and outcome.",
		}, []string{"action", "outcome"}),
		couponUses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_uses_total",
			Help:      "Coupon use attempts by outcome code.",
		}, []string{"outcome"}),
		couponResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_resets_total",
			Help:      "Coupon usages rolled into a new cycle or expired.",
		}, []string{"result"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduled sweeps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handed to the sender, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.pointsAwarded, m.pointsSpent, m.awardRejections, m.checkouts,
		m.transitions, m.couponUses, m.couponResets, m.sweepDuration, m.notificationsSent,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PointsAwarded(category string, amount int64) {
	if m == nil {
		return
	}
	m.pointsAwarded.WithLabelValues(category).Add(float64(amount))
}

func (m *Metrics) PointsSpent(amount int64) {
	if m == nil {
		return
	}
	m.pointsSpent.Add(float64(amount))
}

func (m *Metrics) AwardRejected(reason string) {
	if m == nil {
		return
	}
	m.awardRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Checkout(outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(action, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) CouponUse(outcome string) {
	if m == nil {
		return
	}
	m.couponUses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CouponReset(result string) {
	if m == nil {
		return
	}
	m.couponResets.WithLabelValues(result).Inc()
}

func (m *Metrics) SweepFinished(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(kind).Inc()
}
