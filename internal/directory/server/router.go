package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	jww "github.com/spf13/jwalterweatherman"

	"cipherkit/internal/domain"
)

const maxBodyBytes = 1 << 20

// Options configures the HTTP surface.
type Options struct {
	// FetchLimit bundle fetches are allowed per FetchWindow per client IP.
	// Each fetch consumes a one-time prekey, so this bounds pool draining.
	FetchLimit  int
	FetchWindow time.Duration
	// Registry receives the directory metrics and backs /metrics. A fresh
	// registry is used when nil.
	Registry *prometheus.Registry
}

// DefaultOptions returns the stock rate limit.
func DefaultOptions() Options {
	return Options{FetchLimit: 30, FetchWindow: time.Minute}
}

type handler struct {
	dir domain.Directory
	m   *metrics
}

type ackRequest struct {
	IDs []string `json:"ids"`
}

type groupMessageRequest struct {
	Envelope   domain.GroupEnvelope `json:"envelope"`
	Recipients []domain.Address     `json:"recipients"`
}

// NewRouter serves dir over HTTP.
func NewRouter(dir domain.Directory, opts Options) http.Handler {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	h := &handler{dir: dir, m: newMetrics(reg)}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(h.m.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/bundles", h.publishBundle)
		r.With(fetchLimiter(opts)).Get("/bundles/{user}/{device}", h.fetchBundle)
		r.Post("/bundles/{user}/{device}/prekeys", h.addPreKeys)

		r.Post("/mailbox", h.sendEnvelope)
		r.Get("/mailbox/{user}/{device}", h.fetchEnvelopes)
		r.Post("/mailbox/{user}/{device}/ack", h.ackEnvelopes)

		r.Get("/groups/mailbox/{user}/{device}", h.fetchGroupEnvelopes)
		r.Post("/groups/mailbox/{user}/{device}/ack", h.ackGroupEnvelopes)
		r.Post("/groups/{group}/keys", h.pushGroupKeys)
		r.Get("/groups/{group}/missing", h.missingMembers)
		r.Post("/groups/{group}/messages", h.sendGroupEnvelope)
	})
	return r
}

func fetchLimiter(opts Options) func(http.Handler) http.Handler {
	if opts.FetchLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.LimitByIP(opts.FetchLimit, opts.FetchWindow)
}

func (h *handler) publishBundle(w http.ResponseWriter, r *http.Request) {
	var b domain.PreKeyBundle
	if !decode(w, r, &b) {
		return
	}
	if err := h.dir.PublishBundle(r.Context(), b); err != nil {
		fail(w, "publish bundle", err)
		return
	}
	jww.INFO.Printf("directory: bundle published for %s (%d one-time)", b.Address, len(b.OneTimePreKeys))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) fetchBundle(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	b, err := h.dir.FetchBundle(r.Context(), addr)
	if err != nil {
		fail(w, "fetch bundle", err)
		return
	}
	h.m.bundlesFetched.WithLabelValues(strconv.FormatBool(len(b.OneTimePreKeys) > 0)).Inc()
	jww.DEBUG.Printf("directory: bundle fetched for %s", addr)
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) addPreKeys(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	var keys []domain.OneTimePreKeyPublic
	if !decode(w, r, &keys) {
		return
	}
	if err := h.dir.AddOneTimePreKeys(r.Context(), addr, keys); err != nil {
		fail(w, "add prekeys", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) sendEnvelope(w http.ResponseWriter, r *http.Request) {
	var env domain.Envelope
	if !decode(w, r, &env) {
		return
	}
	if env.To.IsZero() {
		http.Error(w, "missing recipient", http.StatusBadRequest)
		return
	}
	if err := h.dir.SendEnvelope(r.Context(), env); err != nil {
		fail(w, "send envelope", err)
		return
	}
	h.m.envelopesQueued.WithLabelValues("direct").Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) fetchEnvelopes(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	envs, err := h.dir.FetchEnvelopes(r.Context(), addr, limitParam(r))
	if err != nil {
		fail(w, "fetch envelopes", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(envs))
}

func (h *handler) ackEnvelopes(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	var req ackRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.dir.AckEnvelopes(r.Context(), addr, req.IDs); err != nil {
		fail(w, "ack envelopes", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) pushGroupKeys(w http.ResponseWriter, r *http.Request) {
	var push domain.GroupKeyPush
	if !decode(w, r, &push) {
		return
	}
	if string(push.GroupID) != chi.URLParam(r, "group") {
		http.Error(w, "group mismatch", http.StatusBadRequest)
		return
	}
	if err := h.dir.PushGroupKeys(r.Context(), push); err != nil {
		fail(w, "push group keys", err)
		return
	}
	h.m.envelopesQueued.WithLabelValues("sender_key").Add(float64(len(push.Envelopes)))
	jww.DEBUG.Printf("directory: %s pushed %d sender keys for %s epoch %d",
		push.Sender, len(push.Envelopes), push.GroupID, push.Epoch)
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) missingMembers(w http.ResponseWriter, r *http.Request) {
	group := domain.GroupID(chi.URLParam(r, "group"))
	sender, err := domain.ParseAddress(r.URL.Query().Get("member"))
	if err != nil {
		http.Error(w, "invalid member", http.StatusBadRequest)
		return
	}
	epoch, err := strconv.ParseUint(r.URL.Query().Get("epoch"), 10, 32)
	if err != nil {
		http.Error(w, "invalid epoch", http.StatusBadRequest)
		return
	}
	out, err := h.dir.MissingMembers(r.Context(), group, sender, uint32(epoch))
	if err != nil {
		fail(w, "missing members", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(out))
}

func (h *handler) sendGroupEnvelope(w http.ResponseWriter, r *http.Request) {
	var req groupMessageRequest
	if !decode(w, r, &req) {
		return
	}
	if string(req.Envelope.GroupID) != chi.URLParam(r, "group") {
		http.Error(w, "group mismatch", http.StatusBadRequest)
		return
	}
	if err := h.dir.SendGroupEnvelope(r.Context(), req.Envelope, req.Recipients); err != nil {
		fail(w, "send group envelope", err)
		return
	}
	h.m.envelopesQueued.WithLabelValues("group").Add(float64(len(req.Recipients)))
	w.WriteHeader(http.StatusAccepted)
}

func (h *handler) fetchGroupEnvelopes(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	envs, err := h.dir.FetchGroupEnvelopes(r.Context(), addr, limitParam(r))
	if err != nil {
		fail(w, "fetch group envelopes", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(envs))
}

func (h *handler) ackGroupEnvelopes(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r)
	if !ok {
		return
	}
	var req ackRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.dir.AckGroupEnvelopes(r.Context(), addr, req.IDs); err != nil {
		fail(w, "ack group envelopes", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func addressParam(w http.ResponseWriter, r *http.Request) (domain.Address, bool) {
	user := chi.URLParam(r, "user")
	dev, err := strconv.ParseUint(chi.URLParam(r, "device"), 10, 32)
	if user == "" || err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return domain.Address{}, false
	}
	return domain.Address{User: domain.Username(user), Device: domain.DeviceID(dev)}, true
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jww.WARN.Printf("directory: %s %s: bad body: %v", r.Method, r.URL.Path, err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return false
	}
	return true
}

func fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	jww.ERROR.Printf("directory: %s: %v", op, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
