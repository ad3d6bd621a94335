package admin

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/yatagarasu/yatagarasu/internal/apierror"
)

// Reloader re-reads configuration and atomically publishes a new snapshot,
// reporting the generation number of the snapshot it published.
type Reloader interface {
	Reload() (uint64, error)
}

// CacheManager exposes the operations the admin surface needs from the
// tiered cache, kept as an interface so this package never imports
// internal/cache directly.
type CacheManager interface {
	Purge(bucket, path string) error
	Stats() map[string]interface{}
}

// Warmer exposes prewarm task lifecycle operations.
type Warmer interface {
	Submit(bucket, prefix string) string
	Status(id string) (interface{}, bool)
	Cancel(id string) bool
}

// Surface wires the admin HTTP endpoints onto a gorilla/mux router.
type Surface struct {
	reloader Reloader
	cache    CacheManager
	warmer   Warmer
	auth     Authorizer
	logger   *logrus.Entry
}

// NewSurface builds the admin surface. Pass admin.NewAdmin(cfg) (or a
// BearerJWT built with the "admin" role) as auth.
func NewSurface(reloader Reloader, cache CacheManager, warmer Warmer, auth Authorizer, logger *logrus.Entry) *Surface {
	return &Surface{reloader: reloader, cache: cache, warmer: warmer, auth: auth, logger: logger}
}

// Register mounts every admin route under router, typically a subrouter
// scoped to /admin.
func (s *Surface) Register(router *mux.Router) {
	router.Use(s.authMiddleware)

	router.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost)
	router.HandleFunc("/cache/prewarm", s.handlePrewarmCreate).Methods(http.MethodPost)
	router.HandleFunc("/cache/prewarm/status/{id}", s.handlePrewarmStatus).Methods(http.MethodGet)
	router.HandleFunc("/cache/prewarm/{id}", s.handlePrewarmCancel).Methods(http.MethodDelete)
	router.HandleFunc("/cache/purge", s.handlePurge).Methods(http.MethodPost)
	router.HandleFunc("/cache/purge/{bucket}", s.handlePurge).Methods(http.MethodPost)
	router.HandleFunc("/cache/purge/{bucket}/{path:.*}", s.handlePurge).Methods(http.MethodPost)
	router.HandleFunc("/cache/stats", s.handleStats).Methods(http.MethodGet)
}

func (s *Surface) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Authorize(r); err != nil {
			apierror.Write(w, s.logger, err, r.Header.Get("X-Request-Id"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Surface) handleReload(w http.ResponseWriter, r *http.Request) {
	generation, err := s.reloader.Reload()
	if err != nil {
		apierror.Write(w, s.logger, apierror.Wrap(apierror.Internal, "reload failed", err), r.Header.Get("X-Request-Id"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]uint64{"generation": generation})
}

type prewarmRequest struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
}

func (s *Surface) handlePrewarmCreate(w http.ResponseWriter, r *http.Request) {
	var req prewarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, s.logger, apierror.Wrap(apierror.BadRequest, "invalid request body", err), r.Header.Get("X-Request-Id"))
		return
	}
	if req.Bucket == "" {
		apierror.Write(w, s.logger, apierror.New(apierror.BadRequest, "bucket is required"), r.Header.Get("X-Request-Id"))
		return
	}

	id := s.warmer.Submit(req.Bucket, req.Prefix)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (s *Surface) handlePrewarmStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, ok := s.warmer.Status(id)
	if !ok {
		apierror.Write(w, s.logger, apierror.New(apierror.RouteNotFound, "unknown prewarm task"), r.Header.Get("X-Request-Id"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Surface) handlePrewarmCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.warmer.Cancel(id) {
		apierror.Write(w, s.logger, apierror.New(apierror.RouteNotFound, "unknown prewarm task"), r.Header.Get("X-Request-Id"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Surface) handlePurge(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.cache.Purge(vars["bucket"], vars["path"]); err != nil {
		apierror.Write(w, s.logger, apierror.Wrap(apierror.Internal, "purge failed", err), r.Header.Get("X-Request-Id"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Surface) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.cache.Stats())
}
