// Package metrics exposes Prometheus counters for the duel relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChallengesIssued counts duel challenges relayed to targets.
	ChallengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "duel",
		Name:      "challenges_issued_total",
		Help:      "Number of duel challenges relayed to their targets.",
	})

	// ChallengesAccepted counts accept messages relayed back to challengers.
	ChallengesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "duel",
		Name:      "challenges_accepted_total",
		Help:      "Number of duel accepts relayed to challengers.",
	})

	// StateBroadcasts counts round answer broadcasts.
	StateBroadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "duel",
		Name:      "state_broadcasts_total",
		Help:      "Number of round state broadcasts relayed.",
	})

	// QuestionSetRequests counts question set fetches served.
	QuestionSetRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "duel",
		Name:      "question_set_requests_total",
		Help:      "Number of question set fetches served.",
	})

	// WSConnections tracks live websocket relay connections.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "ws_connections",
		Help:      "Live websocket relay connections.",
	})

	// AuthRejections counts rejected channel authorization exchanges.
	AuthRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "auth_rejections_total",
		Help:      "Number of rejected channel authorization exchanges.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
