package stats

import (
	"io"
	"sync"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Collector receives the observability events of the pool, the resolver and
// the deactivation registry. Implementations must be safe for concurrent use.
type Collector interface {
	IncClientsCreated()
	IncClientsCreatedOutsidePool()
	IncDeactivated()
	IncFailovers()
	IncRetries()
	IncRetrySuccess()
	IncRetryTimeouts()
	IncInvalidMasters()
	IncNoMastersFound()
	IncHostResets()
	IncPoolTimeouts()
	ObserveAcquireWait(d time.Duration)
	Snapshot() Snapshot
}

// Snapshot is a point-in-time copy of all counters
type Snapshot struct {
	ClientsCreated            uint64    `json:"clientsCreated"`
	ClientsCreatedOutsidePool uint64    `json:"clientsCreatedOutsidePool"`
	ClientsDeactivated        uint64    `json:"clientsDeactivated"`
	Failovers                 uint64    `json:"failovers"`
	Retries                   uint64    `json:"retries"`
	RetrySuccesses            uint64    `json:"retrySuccesses"`
	RetryTimeouts             uint64    `json:"retryTimeouts"`
	InvalidMasters            uint64    `json:"invalidMasters"`
	NoMastersFound            uint64    `json:"noMastersFound"`
	HostResets                uint64    `json:"hostResets"`
	PoolTimeouts              uint64    `json:"poolTimeouts"`
	AcquireWait               WaitStats `json:"acquireWait"`
}

// WaitStats summarizes the time callers spent waiting for a pool slot
type WaitStats struct {
	Count int64         `json:"count"`
	Mean  time.Duration `json:"mean"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// --------------------------------------------------------------------------
// Default implementation
// --------------------------------------------------------------------------

// Stats is the default Collector. Counters live in their own metrics set so
// independent instances (e.g. one per test) never share state.
type Stats struct {
	set *vm.Set

	clientsCreated            *vm.Counter
	clientsCreatedOutsidePool *vm.Counter
	deactivated               *vm.Counter
	failovers                 *vm.Counter
	retries                   *vm.Counter
	retrySuccess              *vm.Counter
	retryTimeouts             *vm.Counter
	invalidMasters            *vm.Counter
	noMastersFound            *vm.Counter
	hostResets                *vm.Counter
	poolTimeouts              *vm.Counter

	acquireWait gometrics.Timer
}

var _ Collector = (*Stats)(nil)

// New creates a fresh collector
func New() *Stats {
	set := vm.NewSet()
	s := &Stats{
		set:                       set,
		clientsCreated:            set.NewCounter("replkv_clients_created_total"),
		clientsCreatedOutsidePool: set.NewCounter("replkv_clients_created_outside_pool_total"),
		deactivated:               set.NewCounter("replkv_clients_deactivated_total"),
		failovers:                 set.NewCounter("replkv_failovers_total"),
		retries:                   set.NewCounter("replkv_retries_total"),
		retrySuccess:              set.NewCounter("replkv_retry_successes_total"),
		retryTimeouts:             set.NewCounter("replkv_retry_timeouts_total"),
		invalidMasters:            set.NewCounter("replkv_invalid_masters_total"),
		noMastersFound:            set.NewCounter("replkv_no_masters_found_total"),
		hostResets:                set.NewCounter("replkv_host_resets_total"),
		poolTimeouts:              set.NewCounter("replkv_pool_timeouts_total"),
		acquireWait:               gometrics.NewTimer(),
	}

	// expose the wait timer through the same set
	set.NewGauge("replkv_pool_acquire_wait_count", func() float64 {
		return float64(s.acquireWait.Count())
	})
	set.NewGauge("replkv_pool_acquire_wait_mean_seconds", func() float64 {
		return time.Duration(s.acquireWait.Mean()).Seconds()
	})
	set.NewGauge("replkv_pool_acquire_wait_max_seconds", func() float64 {
		return time.Duration(s.acquireWait.Max()).Seconds()
	})

	return s
}

var (
	defaultOnce  sync.Once
	defaultStats *Stats
)

// Default returns the process-wide collector
func Default() *Stats {
	defaultOnce.Do(func() {
		defaultStats = New()
	})
	return defaultStats
}

func (s *Stats) IncClientsCreated()            { s.clientsCreated.Inc() }
func (s *Stats) IncClientsCreatedOutsidePool() { s.clientsCreatedOutsidePool.Inc() }
func (s *Stats) IncDeactivated()               { s.deactivated.Inc() }
func (s *Stats) IncFailovers()                 { s.failovers.Inc() }
func (s *Stats) IncRetries()                   { s.retries.Inc() }
func (s *Stats) IncRetrySuccess()              { s.retrySuccess.Inc() }
func (s *Stats) IncRetryTimeouts()             { s.retryTimeouts.Inc() }
func (s *Stats) IncInvalidMasters()            { s.invalidMasters.Inc() }
func (s *Stats) IncNoMastersFound()            { s.noMastersFound.Inc() }
func (s *Stats) IncHostResets()                { s.hostResets.Inc() }
func (s *Stats) IncPoolTimeouts()              { s.poolTimeouts.Inc() }

// ObserveAcquireWait records how long a caller waited for a pool slot
func (s *Stats) ObserveAcquireWait(d time.Duration) {
	s.acquireWait.Update(d)
}

func (s *Stats) Snapshot() Snapshot {
	wait := s.acquireWait.Snapshot()
	return Snapshot{
		ClientsCreated:            s.clientsCreated.Get(),
		ClientsCreatedOutsidePool: s.clientsCreatedOutsidePool.Get(),
		ClientsDeactivated:        s.deactivated.Get(),
		Failovers:                 s.failovers.Get(),
		Retries:                   s.retries.Get(),
		RetrySuccesses:            s.retrySuccess.Get(),
		RetryTimeouts:             s.retryTimeouts.Get(),
		InvalidMasters:            s.invalidMasters.Get(),
		NoMastersFound:            s.noMastersFound.Get(),
		HostResets:                s.hostResets.Get(),
		PoolTimeouts:              s.poolTimeouts.Get(),
		AcquireWait: WaitStats{
			Count: wait.Count(),
			Mean:  time.Duration(wait.Mean()),
			P99:   time.Duration(wait.Percentile(0.99)),
			Max:   time.Duration(wait.Max()),
		},
	}
}

// WritePrometheus writes all metrics in the Prometheus text exposition format
func (s *Stats) WritePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}
