// Package httpapi is the HTTP surface of the gateway.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"inkgate.org/internal/auth"
	"inkgate.org/internal/obs"
	"inkgate.org/internal/pending"
	"inkgate.org/internal/record"
)

// ReadyProbe reports backend readiness; with a nil DB it always succeeds.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries everything the API needs; nothing is read from the
// environment here.
type Options struct {
	Version        string
	Issuer         *auth.Issuer
	Verifier       *auth.Verifier
	HostAPIKey     string
	Store          record.Store
	Queue          *pending.Queue
	StorageTimeout time.Duration
	AllowedOrigins []string
	ReadyProbe     ReadyProbe
	RateBurst      int
	RatePerSec     int
}

// API is the HTTP layer.
type API struct {
	mux            *http.ServeMux
	version        string
	issuer         *auth.Issuer
	verifier       *auth.Verifier
	hostAPIKey     string
	store          record.Store
	queue          *pending.Queue
	storageTimeout time.Duration
	allowedOrigins []string
	readyProbe     ReadyProbe
	validate       *validator.Validate
	rateBurst      int
	ratePerSec     int
}

// New wires routes. Token minting and record access are the load-bearing
// endpoints; health, readiness and metrics stay public and tenant-free.
func New(opts Options) *API {
	a := &API{
		mux:            http.NewServeMux(),
		version:        opts.Version,
		issuer:         opts.Issuer,
		verifier:       opts.Verifier,
		hostAPIKey:     opts.HostAPIKey,
		store:          opts.Store,
		queue:          opts.Queue,
		storageTimeout: opts.StorageTimeout,
		allowedOrigins: opts.AllowedOrigins,
		readyProbe:     opts.ReadyProbe,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		rateBurst:      opts.RateBurst,
		ratePerSec:     opts.RatePerSec,
	}
	if a.storageTimeout <= 0 {
		a.storageTimeout = 5 * time.Second
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())
	a.mux.HandleFunc("/v1/token", a.handleToken)
	a.mux.HandleFunc("/v1/records", a.handleRecords)
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h, a.allowedOrigins)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
