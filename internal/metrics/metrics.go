package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/i2c-can-bridge/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	CANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "Total CAN frames received from the bus backend.",
	})
	CANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "Total CAN frames handed to the bus backend for transmission.",
	})
	FilteredFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_filtered_frames_total",
		Help: "Total CAN frames discarded by the acceptance masks/filters.",
	})
	BufferedFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rx_buffer_frames",
		Help: "Unread frames currently held in the receive buffer.",
	})
	BufferUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_buffer_updates_total",
		Help: "Frames that overwrote an unread frame with the same CAN ID.",
	})
	BufferEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_buffer_evictions_total",
		Help: "Unread frames evicted to make room (evict-oldest policy).",
	})
	BufferRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rx_buffer_rejections_total",
		Help: "Frames rejected because the receive buffer was full (reject policy).",
	})
	RegisterWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "register_writes_total",
		Help: "Master writes by register and outcome.",
	}, []string{"reg", "outcome"})
	RegisterReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "register_reads_total",
		Help: "Master reads by register.",
	}, []string{"reg"})
	LinkTransactions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_transactions_total",
		Help: "Total register-link transactions served.",
	})
	LinkNacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_nacks_total",
		Help: "Register-link transactions addressed to another slave address.",
	})
	LinkActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "link_active_clients",
		Help: "Current number of connected register-link masters.",
	})
	LinkRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "link_rejected_clients_total",
		Help: "Register-link connections rejected (e.g., max-clients).",
	})
	TapDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tap_dropped_frames_total",
		Help: "Frames dropped by the tap hub due to slow consumers.",
	})
	TapActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tap_active",
		Help: "Current number of frame taps attached to the hub.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (bad size, checksum, length or identifier).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrLinkRead       = "link_read"
	ErrLinkWrite      = "link_write"
	ErrHandshake      = "handshake"
	ErrSerialRead     = "serial_read"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANRead  = "socketcan_read"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrPersist        = "persist"
	ErrMQTTPublish    = "mqtt_publish"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrors so the process can log counters without scraping itself.
var (
	localCANRx       uint64
	localCANTx       uint64
	localFiltered    uint64
	localBuffered    uint64
	localUpdates     uint64
	localEvictions   uint64
	localRejections  uint64
	localRegWrites   uint64
	localRegReads    uint64
	localLinkTx      uint64
	localLinkNacks   uint64
	localLinkClients uint64
	localLinkReject  uint64
	localTapDrops    uint64
	localErrors      uint64
	localMalformed   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	CANRx       uint64
	CANTx       uint64
	Filtered    uint64
	Buffered    uint64
	Updates     uint64
	Evictions   uint64
	Rejections  uint64
	RegWrites   uint64
	RegReads    uint64
	LinkTx      uint64
	LinkNacks   uint64
	LinkClients uint64
	LinkRejects uint64
	TapDrops    uint64
	Errors      uint64 // sum across error labels
	Malformed   uint64
}

func Snap() Snapshot {
	return Snapshot{
		CANRx:       atomic.LoadUint64(&localCANRx),
		CANTx:       atomic.LoadUint64(&localCANTx),
		Filtered:    atomic.LoadUint64(&localFiltered),
		Buffered:    atomic.LoadUint64(&localBuffered),
		Updates:     atomic.LoadUint64(&localUpdates),
		Evictions:   atomic.LoadUint64(&localEvictions),
		Rejections:  atomic.LoadUint64(&localRejections),
		RegWrites:   atomic.LoadUint64(&localRegWrites),
		RegReads:    atomic.LoadUint64(&localRegReads),
		LinkTx:      atomic.LoadUint64(&localLinkTx),
		LinkNacks:   atomic.LoadUint64(&localLinkNacks),
		LinkClients: atomic.LoadUint64(&localLinkClients),
		LinkRejects: atomic.LoadUint64(&localLinkReject),
		TapDrops:    atomic.LoadUint64(&localTapDrops),
		Errors:      atomic.LoadUint64(&localErrors),
		Malformed:   atomic.LoadUint64(&localMalformed),
	}
}

func IncCANRx() {
	CANRxFrames.Inc()
	atomic.AddUint64(&localCANRx, 1)
}

func IncCANTx() {
	CANTxFrames.Inc()
	atomic.AddUint64(&localCANTx, 1)
}

// IncFiltered counts a frame discarded by acceptance filtering.
func IncFiltered() {
	FilteredFrames.Inc()
	atomic.AddUint64(&localFiltered, 1)
}

func SetBuffered(n int) {
	BufferedFrames.Set(float64(n))
	atomic.StoreUint64(&localBuffered, uint64(n))
}

func IncBufferUpdate() {
	BufferUpdates.Inc()
	atomic.AddUint64(&localUpdates, 1)
}

func IncBufferEviction() {
	BufferEvictions.Inc()
	atomic.AddUint64(&localEvictions, 1)
}

func IncBufferRejection() {
	BufferRejections.Inc()
	atomic.AddUint64(&localRejections, 1)
}

// IncRegisterWrite records a master write; outcome is "ok" or "error".
func IncRegisterWrite(reg, outcome string) {
	RegisterWrites.WithLabelValues(reg, outcome).Inc()
	atomic.AddUint64(&localRegWrites, 1)
}

func IncRegisterRead(reg string) {
	RegisterReads.WithLabelValues(reg).Inc()
	atomic.AddUint64(&localRegReads, 1)
}

func IncLinkTransaction() {
	LinkTransactions.Inc()
	atomic.AddUint64(&localLinkTx, 1)
}

func IncLinkNack() {
	LinkNacks.Inc()
	atomic.AddUint64(&localLinkNacks, 1)
}

func SetLinkClients(n int) {
	LinkActiveClients.Set(float64(n))
	atomic.StoreUint64(&localLinkClients, uint64(n))
}

func IncLinkReject() {
	LinkRejectedClients.Inc()
	atomic.AddUint64(&localLinkReject, 1)
}

func IncTapDrop() {
	TapDroppedFrames.Inc()
	atomic.AddUint64(&localTapDrops, 1)
}

func SetTaps(n int) { TapActive.Set(float64(n)) }

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrLinkRead, ErrLinkWrite, ErrHandshake,
		ErrSerialRead, ErrSerialWrite, ErrSerialOverflow,
		ErrSocketCANRead, ErrSocketCANWrite, ErrSocketCANOver,
		ErrPersist, ErrMQTTPublish,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not wired yet: report ready so scrapers don't flap
		return true
	}
	return fn()
}
