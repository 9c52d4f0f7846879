/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package quotakit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-quotakit/diag"
	"github.com/acronis/go-quotakit/httpclient"
	"github.com/acronis/go-quotakit/log"
	"github.com/acronis/go-quotakit/memoize"
	"github.com/acronis/go-quotakit/quota"
	"github.com/acronis/go-quotakit/session"
	"github.com/acronis/go-quotakit/taskqueue"
	"github.com/acronis/go-quotakit/ttlstore"
)

const queueMetricsLabel = "queue"

// Opts represents options for New.
type Opts struct {
	// Logger is used by all components. If it's nil, the logger is created from Config.Log.
	Logger log.FieldLogger

	// Clock is used by all components. Default is the real-time clock.
	Clock clock.Clock

	// SessionProvider supplies credentials for the HTTP client and enables the refresh of expired sessions.
	SessionProvider session.Provider

	// HTTPTransport is the innermost round tripper of the HTTP client. A clone of http.DefaultTransport by default.
	HTTPTransport http.RoundTripper

	// RegisterMetrics enables Prometheus metrics of all components and registers them in the default registry.
	// They are unregistered by Kit.Close.
	RegisterMetrics bool

	// MetricsNamespace is prepended to the names of the registered metrics.
	MetricsNamespace string
}

type metricsRegisterer interface {
	MustRegister()
	Unregister()
}

// Kit is a set of resilience components built from the configuration.
type Kit struct {
	cfg      *Config
	logger   log.FieldLogger
	kitLog   log.FieldLogger
	closeLog log.CloseFunc
	clock    clock.Clock

	store    ttlstore.Store
	signal   *quota.Signal
	executor *quota.Executor
	queues   map[string]*taskqueue.Queue
	client   *httpclient.Client

	diagRouter http.Handler
	diagServer *diag.Server
	diagErrs   chan error

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}

	metrics []metricsRegisterer

	closeOnce sync.Once
	closeErr  error
}

// New creates a new Kit. If the diagnostics server is enabled, it's started and listens until Close is called.
func New(cfg *Config, opts Opts) (kit *Kit, err error) {
	k := &Kit{cfg: cfg, clock: opts.Clock, queues: make(map[string]*taskqueue.Queue, len(cfg.Queues))}
	if k.clock == nil {
		k.clock = clock.New()
	}
	k.logger = opts.Logger
	if k.logger == nil {
		k.logger, k.closeLog = log.NewLogger(cfg.Log)
	}
	k.kitLog = log.NewComponentLogger(k.logger, "quotakit")
	defer func() {
		if err != nil {
			_ = k.Close(context.Background())
		}
	}()

	var (
		storeMetrics ttlstore.MetricsCollector
		quotaMetrics quota.MetricsCollector
		queueMetrics *taskqueue.PrometheusMetrics
		httpMetrics  httpclient.MetricsCollector
	)
	if opts.RegisterMetrics {
		promStore := ttlstore.NewPrometheusMetricsWithOpts(ttlstore.PrometheusMetricsOpts{Namespace: opts.MetricsNamespace})
		promQuota := quota.NewPrometheusMetricsWithOpts(quota.PrometheusMetricsOpts{Namespace: opts.MetricsNamespace})
		queueMetrics = taskqueue.NewPrometheusMetricsWithOpts(taskqueue.PrometheusMetricsOpts{
			Namespace:         opts.MetricsNamespace,
			CurriedLabelNames: []string{queueMetricsLabel},
		})
		promHTTP := httpclient.NewPrometheusMetricsCollector(opts.MetricsNamespace)
		for _, m := range []metricsRegisterer{promStore, promQuota, queueMetrics, promHTTP} {
			m.MustRegister()
			k.metrics = append(k.metrics, m)
		}
		storeMetrics, quotaMetrics, httpMetrics = promStore, promQuota, promHTTP
	}

	if k.store, err = ttlstore.NewStoreFromConfig(cfg.Store, ttlstore.Options{
		Clock:            k.clock,
		Logger:           k.logger,
		MetricsCollector: storeMetrics,
	}); err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	if sweepInterval := time.Duration(cfg.Store.SweepInterval); sweepInterval > 0 {
		var sweepCtx context.Context
		sweepCtx, k.sweepCancel = context.WithCancel(context.Background())
		k.sweepDone = make(chan struct{})
		go func() {
			defer close(k.sweepDone)
			ttlstore.RunPeriodicSweepWithClock(sweepCtx, k.store, sweepInterval, k.logger, k.clock)
		}()
	}

	k.signal = quota.NewSignalWithOpts(quota.SignalOpts{Clock: k.clock, MetricsCollector: quotaMetrics})

	executorOpts := cfg.Query.ExecutorOpts()
	executorOpts.Signal = k.signal
	executorOpts.SessionProvider = opts.SessionProvider
	executorOpts.Clock = k.clock
	executorOpts.Logger = k.logger
	executorOpts.MetricsCollector = quotaMetrics
	k.executor = quota.NewExecutorWithOpts(executorOpts)

	queueInspectors := make([]diag.QueueInspector, 0, len(cfg.Queues))
	for _, name := range sortedKeys(cfg.Queues) {
		queueOpts := cfg.Queues[name].Options(name)
		queueOpts.Clock = k.clock
		queueOpts.Logger = k.logger
		if queueMetrics != nil {
			queueOpts.MetricsCollector = queueMetrics.MustCurryWith(prometheus.Labels{queueMetricsLabel: name})
		}
		q := taskqueue.NewWithOpts(queueOpts)
		k.queues[name] = q
		queueInspectors = append(queueInspectors, q)
	}

	if k.client, err = httpclient.NewClient(cfg.HTTP, httpclient.Opts{
		Delegate:        opts.HTTPTransport,
		SessionProvider: opts.SessionProvider,
		Logger:          k.logger,
		Collector:       httpMetrics,
	}); err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}

	k.diagRouter = diag.NewRouter(diag.RouterOpts{
		Store:  k.store,
		Queues: queueInspectors,
		Signal: k.signal,
		Clock:  k.clock,
		Logger: k.logger,
	})
	if cfg.Diag.Enabled {
		k.diagServer = diag.NewServer(cfg.Diag, k.diagRouter, k.logger)
		if err = k.diagServer.Listen(); err != nil {
			k.diagServer = nil
			return nil, fmt.Errorf("listen diagnostics server: %w", err)
		}
		k.diagErrs = make(chan error, 1)
		go k.diagServer.Start(k.diagErrs)
	}

	k.kitLog.Info("initialized", log.Int("queues", len(k.queues)), log.Bool("diag", cfg.Diag.Enabled))
	return k, nil
}

// Logger returns the logger used by the Kit components.
func (k *Kit) Logger() log.FieldLogger {
	return k.logger
}

// Store returns the store of memoized results.
func (k *Kit) Store() ttlstore.Store {
	return k.store
}

// Signal returns the quota exceeded signal shared by all queries of the Kit.
func (k *Kit) Signal() *quota.Signal {
	return k.signal
}

// Executor returns the rate-limit-aware query executor.
func (k *Kit) Executor() *quota.Executor {
	return k.executor
}

// HTTPClient returns the client of the remote API.
func (k *Kit) HTTPClient() *httpclient.Client {
	return k.client
}

// Queue returns the configured queue with the given name.
func (k *Kit) Queue(name string) (*taskqueue.Queue, bool) {
	q, ok := k.queues[name]
	return q, ok
}

// QueueNames returns sorted names of the configured queues.
func (k *Kit) QueueNames() []string {
	return sortedKeys(k.queues)
}

// DiagHandler returns the diagnostics router. It may be mounted into an application server
// when the standalone diagnostics server is disabled.
func (k *Kit) DiagHandler() http.Handler {
	return k.diagRouter
}

// DiagAddr returns the address of the running diagnostics server (nil if it's disabled).
func (k *Kit) DiagAddr() net.Addr {
	if k.diagServer == nil {
		return nil
	}
	return k.diagServer.Addr()
}

// DiagErrors returns a channel that receives a fatal error of the diagnostics server (nil if it's disabled).
func (k *Kit) DiagErrors() <-chan error {
	return k.diagErrs
}

// Execute runs op through the rate-limit-aware executor. See quota.Executor.Execute.
func (k *Kit) Execute(
	ctx context.Context, op func(ctx context.Context) error, label string, onError func(err *quota.QueryError),
) error {
	return k.executor.Execute(ctx, op, label, onError)
}

// Close stops the diagnostics server, closes the queues (waiting for running tasks until ctx is done),
// stops the periodic sweep and closes the store. It's safe to call Close several times.
func (k *Kit) Close(ctx context.Context) error {
	k.closeOnce.Do(func() {
		k.closeErr = k.close(ctx)
	})
	return k.closeErr
}

func (k *Kit) close(ctx context.Context) error {
	var errs []error
	if k.diagServer != nil {
		if err := k.diagServer.Stop(true); err != nil {
			errs = append(errs, fmt.Errorf("stop diagnostics server: %w", err))
		}
	}
	for _, name := range sortedKeys(k.queues) {
		if err := k.queues[name].Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close queue %q: %w", name, err))
		}
	}
	if k.sweepCancel != nil {
		k.sweepCancel()
		<-k.sweepDone
	}
	if k.store != nil {
		if err := k.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	for _, m := range k.metrics {
		m.Unregister()
	}
	if err := errors.Join(errs...); err != nil {
		k.kitLog.Error("closed with errors", log.Error(err))
		k.closeLogger()
		return err
	}
	k.kitLog.Info("closed")
	k.closeLogger()
	return nil
}

func (k *Kit) closeLogger() {
	if k.closeLog != nil {
		k.closeLog()
	}
}

// CachedOpts represents optional parameters for Cached.
type CachedOpts[A any] struct {
	// TTL of memoized results. Default is the store's DefaultTTL from the configuration.
	TTL time.Duration

	// KeyFunc builds the arguments part of the cache key. Default is memoize.CanonicalKey.
	KeyFunc func(args A) (string, error)

	// OnError is called when the query fails after all attempts.
	OnError func(err *quota.QueryError)
}

// Cached returns a memoized version of op whose executions go through the Kit's query executor.
// The prefix scopes the cache keys and labels the query in logs and metrics.
// Failed executions are never memoized.
func Cached[A, V any](k *Kit, prefix string, op memoize.Op[A, V], opts CachedOpts[A]) (*memoize.Func[A, V], error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Duration(k.cfg.Store.DefaultTTL)
	}
	query := func(ctx context.Context, args A) (V, error) {
		return quota.Query(ctx, k.executor, func(ctx context.Context) (V, error) {
			return op(ctx, args)
		}, prefix, opts.OnError)
	}
	return memoize.Wrap(query, memoize.Options[A]{
		Store:   k.store,
		Prefix:  prefix,
		TTL:     ttl,
		KeyFunc: opts.KeyFunc,
		Logger:  k.logger,
	})
}
