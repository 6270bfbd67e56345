// Package metrics holds the prometheus metrics of the model bridge.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/docker/go-metrics"
)

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "yepmodel"
)

// Batch outcomes.
const (
	ResultApplied  = "applied"
	ResultRejected = "rejected"
	ResultDropped  = "dropped"
	ResultEmpty    = "empty"
)

var (
	// BridgeNamespace is the prometheus namespace of binding operations
	BridgeNamespace = metrics.NewNamespace(NamespacePrefix, "bridge", nil)

	batches  = BridgeNamespace.NewLabeledCounter("batches", "The number of batches delivered to bindings", "result")
	resyncs  = BridgeNamespace.NewCounter("resyncs", "The number of rebuilds from a full snapshot")
	pending  = BridgeNamespace.NewGauge("pending", "The gauge of batches queued behind a running batch", metrics.Total)
	bindings = BridgeNamespace.NewGauge("bindings", "The gauge of attached bindings", metrics.Total)
	apply    = BridgeNamespace.NewTimer("apply", "The time taken to apply one batch")

	registerOnce sync.Once
)

// Register exposes the bridge namespace to the default registry. It is
// safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		metrics.Register(BridgeNamespace)
	})
}

// Handler serves every registered namespace.
func Handler() http.Handler {
	return metrics.Handler()
}

// Batch counts one delivered batch by outcome.
func Batch(result string) {
	batches.WithValues(result).Inc(1)
}

func Resync() { resyncs.Inc(1) }

func PendingInc() { pending.Inc(1) }

// PendingDec lowers the queue gauge by n.
func PendingDec(n int) {
	if n > 0 {
		pending.Dec(float64(n))
	}
}

func BindingAttached() { bindings.Inc(1) }

func BindingDetached() { bindings.Dec(1) }

// ApplySince records the duration of one batch application.
func ApplySince(start time.Time) {
	apply.UpdateSince(start)
}
