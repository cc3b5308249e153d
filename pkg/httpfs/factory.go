package httpfs

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/xrdhttp/curlfs/pkg/common/logging"
)

// FactoryConfig configures process-wide Factory initialization, per spec
// §4.7.
type FactoryConfig struct {
	WorkerCount     int // default 8
	QueueMaxSize    int
	WorkerConfig    WorkerConfig
	CAFile          string
	CADir           string
	DefaultHeaderTimeout time.Duration
	VerbCacheSize   uint
	Metrics         WorkerMetrics
}

// DefaultFactoryConfig returns spec §4.7's default worker pool size.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		WorkerCount:          8,
		QueueMaxSize:         4096,
		WorkerConfig:         DefaultWorkerConfig(),
		DefaultHeaderTimeout: 60 * time.Second,
		VerbCacheSize:        1024,
	}
}

// Factory is the process-wide singleton of spec §2.7/§4.7: it spawns a fixed
// worker pool sharing one Handler Queue, computes default TLS material, and
// orchestrates shutdown.
type Factory struct {
	cfg     FactoryConfig
	queue   *HandlerQueue
	verbs   *VerbCache
	workers []*Worker
	log     *logging.Logger

	initOnce sync.Once
	initErr  error
	shutdown sync.Once
}

// NewFactory constructs a Factory. It does not start workers until Init is
// called, matching spec §4.7's "one-shot initialization (guarded against
// reentry)".
func NewFactory(cfg FactoryConfig, log *logging.Logger) *Factory {
	return &Factory{cfg: cfg, log: log.WithComponent("factory")}
}

// Init spawns the worker pool. Safe to call multiple times; only the first
// call takes effect.
func (f *Factory) Init() error {
	f.initOnce.Do(func() {
		f.queue = NewHandlerQueue(f.cfg.QueueMaxSize)
		f.verbs = NewVerbCache(f.cfg.VerbCacheSize)

		client, err := f.buildHTTPClient()
		if err != nil {
			f.initErr = fmt.Errorf("building default HTTP client: %w", err)
			return
		}

		for i := 0; i < f.cfg.WorkerCount; i++ {
			w := NewWorker(i, f.cfg.WorkerConfig, f.queue, f.verbs, client, f.log, f.cfg.Metrics)
			f.workers = append(f.workers, w)
			go w.Run()
		}
		f.log.Info("factory initialized", map[string]interface{}{"workers": f.cfg.WorkerCount})
	})
	return f.initErr
}

// buildHTTPClient computes default TLS material paths from configuration or
// the environment (SSL_CERT_FILE / SSL_CERT_DIR), per spec §4.7.
func (f *Factory) buildHTTPClient() (*http.Client, error) {
	caFile := f.cfg.CAFile
	if caFile == "" {
		caFile = os.Getenv("SSL_CERT_FILE")
	}
	caDir := f.cfg.CADir
	if caDir == "" {
		caDir = os.Getenv("SSL_CERT_DIR")
	}

	tlsConfig := &tls.Config{}
	if caFile != "" {
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("reading CA file %s: %w", caFile, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no valid certificates found in %s", caFile)
		}
		tlsConfig.RootCAs = pool
	}
	_ = caDir // directory form (hashed certs) is a transport detail left to the OS trust store.

	transport := &http.Transport{TLSClientConfig: tlsConfig}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// Produce enqueues op onto the shared Handler Queue from any goroutine;
// worker pickup is unordered (spec §4.7).
func (f *Factory) Produce(op *Operation) {
	f.queue.Produce(op)
}

// Shutdown sends every worker a shutdown signal and waits for them to join.
func (f *Factory) Shutdown() {
	f.shutdown.Do(func() {
		f.queue.Shutdown()
		var wg sync.WaitGroup
		for _, w := range f.workers {
			wg.Add(1)
			go func(w *Worker) {
				defer wg.Done()
				w.Shutdown()
			}(w)
		}
		wg.Wait()
		f.log.Info("factory shut down", nil)
	})
}

// VerbCache exposes the shared Verb Cache, e.g. for a Filesystem to
// pre-warm or inspect.
func (f *Factory) VerbCache() *VerbCache { return f.verbs }

// GetHeaderTimeoutWithDefault implements spec §4.7's timeout-combination
// rule: returns tHeader if tOp is zero; otherwise the smaller of the two.
func GetHeaderTimeoutWithDefault(tOp, tHeader time.Duration) time.Duration {
	if tOp == 0 {
		return tHeader
	}
	if tOp < tHeader {
		return tOp
	}
	return tHeader
}
