package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cartOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cart_operations_total",
		Help: "Cart, coupon and wishlist operations by outcome",
	},
	[]string{"op", "result"},
)

var activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "cart_sessions_active",
	Help: "Shopper sessions held in memory",
})

// observe counts op and passes err through.
func observe(op string, err error) error {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cartOperations.WithLabelValues(op, result).Inc()
	return err
}
