package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-fp-driver/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus collectors
var (
	RxBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensor_rx_bytes_total",
		Help: "Total bytes read from the sensor connection.",
	})
	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_decoded_total",
		Help: "Complete frames carved from the sensor stream, by protocol.",
	}, []string{"protocol"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Candidate frames rejected by checksum or header sanity checks.",
	})
	SkippedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resync_skipped_bytes_total",
		Help: "Bytes discarded one at a time while resynchronizing.",
	})
	UnhandledFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unhandled_frames_total",
		Help: "Valid frames with no registered converter.",
	})
	ConvertErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convert_errors_total",
		Help: "Frames a converter could not turn into a record, by category.",
	}, []string{"category"})
	Records = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "records_total",
		Help: "Domain records emitted by converters, by category.",
	}, []string{"category"})
	DMITxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmi_tx_frames_total",
		Help: "Wheel-speed frames written to the sensor.",
	})
	DMIDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dmi_dropped_total",
		Help: "Wheel-speed inputs dropped because the queue was full.",
	})
	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connect_attempts_total",
		Help: "Connection attempts to the sensor, by result.",
	}, []string{"result"})
	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensor_connected",
		Help: "1 while the sensor connection is open.",
	})
	StreamTxRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_tx_records_total",
		Help: "Records written to record stream clients.",
	})
	StreamRxCommands = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stream_rx_commands_total",
		Help: "Wheel-speed commands received from record stream clients.",
	})
	HubDroppedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_records_total",
		Help: "Records dropped by the hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Clients disconnected due to backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Client connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of record stream clients.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrConnect     = "connect"
	ErrSensorRead  = "sensor_read"
	ErrSensorWrite = "sensor_write"
	ErrDMIOverflow = "dmi_overflow"
	ErrTCPRead     = "tcp_read"
	ErrTCPWrite    = "tcp_write"
	ErrHandshake   = "handshake"
	ErrCANRead     = "can_read"
	ErrCommand     = "command"
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

// Local mirrored counters so the periodic log line and tests need no scrape.
var (
	localRxBytes    uint64
	localBinary     uint64
	localAscii      uint64
	localMalformed  uint64
	localSkipped    uint64
	localUnhandled  uint64
	localConvErr    uint64
	localRecords    uint64
	localDMITx      uint64
	localDMIDrop    uint64
	localConnectOK  uint64
	localConnectErr uint64
	localStreamTx   uint64
	localStreamRx   uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localHubClients uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxBytes       uint64
	BinaryFrames  uint64
	AsciiFrames   uint64
	Malformed     uint64
	Skipped       uint64
	Unhandled     uint64
	ConvertErrors uint64
	Records       uint64
	DMITx         uint64
	DMIDropped    uint64
	ConnectOK     uint64
	ConnectFailed uint64
	StreamTx      uint64
	StreamRx      uint64
	HubDrops      uint64
	HubKicks      uint64
	HubRejects    uint64
	HubClients    uint64
	Errors        uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		RxBytes:       atomic.LoadUint64(&localRxBytes),
		BinaryFrames:  atomic.LoadUint64(&localBinary),
		AsciiFrames:   atomic.LoadUint64(&localAscii),
		Malformed:     atomic.LoadUint64(&localMalformed),
		Skipped:       atomic.LoadUint64(&localSkipped),
		Unhandled:     atomic.LoadUint64(&localUnhandled),
		ConvertErrors: atomic.LoadUint64(&localConvErr),
		Records:       atomic.LoadUint64(&localRecords),
		DMITx:         atomic.LoadUint64(&localDMITx),
		DMIDropped:    atomic.LoadUint64(&localDMIDrop),
		ConnectOK:     atomic.LoadUint64(&localConnectOK),
		ConnectFailed: atomic.LoadUint64(&localConnectErr),
		StreamTx:      atomic.LoadUint64(&localStreamTx),
		StreamRx:      atomic.LoadUint64(&localStreamRx),
		HubDrops:      atomic.LoadUint64(&localHubDrop),
		HubKicks:      atomic.LoadUint64(&localHubKick),
		HubRejects:    atomic.LoadUint64(&localHubReject),
		HubClients:    atomic.LoadUint64(&localHubClients),
		Errors:        atomic.LoadUint64(&localErrors),
	}
}

func AddRxBytes(n int) {
	RxBytes.Add(float64(n))
	atomic.AddUint64(&localRxBytes, uint64(n))
}

// IncFrame counts one decoded frame; protocol is "binary" or "ascii".
func IncFrame(protocol string) {
	FramesDecoded.WithLabelValues(protocol).Inc()
	if protocol == "binary" {
		atomic.AddUint64(&localBinary, 1)
	} else {
		atomic.AddUint64(&localAscii, 1)
	}
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func AddSkipped(n int) {
	if n <= 0 {
		return
	}
	SkippedBytes.Add(float64(n))
	atomic.AddUint64(&localSkipped, uint64(n))
}

func IncUnhandled() {
	UnhandledFrames.Inc()
	atomic.AddUint64(&localUnhandled, 1)
}

func IncConvertError(category string) {
	ConvertErrors.WithLabelValues(category).Inc()
	atomic.AddUint64(&localConvErr, 1)
}

func IncRecord(category string) {
	Records.WithLabelValues(category).Inc()
	atomic.AddUint64(&localRecords, 1)
}

func IncDMITx() {
	DMITxFrames.Inc()
	atomic.AddUint64(&localDMITx, 1)
}

func IncDMIDropped() {
	DMIDropped.Inc()
	atomic.AddUint64(&localDMIDrop, 1)
}

// SetConnected records a connect outcome and flips the connected gauge.
func SetConnected(ok bool) {
	if ok {
		ConnectAttempts.WithLabelValues("ok").Inc()
		Connected.Set(1)
		atomic.AddUint64(&localConnectOK, 1)
		return
	}
	ConnectAttempts.WithLabelValues("error").Inc()
	Connected.Set(0)
	atomic.AddUint64(&localConnectErr, 1)
}

// SetDisconnected clears the connected gauge without counting an attempt.
func SetDisconnected() { Connected.Set(0) }

func AddStreamTx(n int) {
	StreamTxRecords.Add(float64(n))
	atomic.AddUint64(&localStreamTx, uint64(n))
}

func IncStreamRx() {
	StreamRxCommands.Inc()
	atomic.AddUint64(&localStreamRx, 1)
}

func IncHubDrop() {
	HubDroppedRecords.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error label series so the first error does not pay registration latency.
	for _, lbl := range []string{
		ErrConnect, ErrSensorRead, ErrSensorWrite, ErrDMIOverflow,
		ErrTCPRead, ErrTCPWrite, ErrHandshake, ErrCANRead, ErrCommand,
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
	if fn == nil { // not set yet: report ready so the endpoint doesn't flap
		return true
	}
	return fn()
}
