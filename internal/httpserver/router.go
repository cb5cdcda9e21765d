package httpserver

import (
	"net/http"

	"activator/internal/auth"
	"activator/internal/httpserver/handlers"
	"activator/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	Gate               *auth.Gate
	Sessions           handlers.Sessions
	Accounts           handlers.Accounts
	Scheduler          handlers.Scheduler
	Activator          handlers.Activator
	Proxies            handlers.ProxyPool
	Importer           handlers.Importer
	MaxActivationCount int
	// CORSOrigins lists allowed browser origins; "*" allows any.
	CORSOrigins []string
	Log         *zap.SugaredLogger
}

func NewRouter(d Deps) http.Handler {
	lg := d.Log
	if lg == nil {
		lg = zap.NewNop().Sugar()
	}
	act := handlers.ActivationDeps{
		Accounts:           d.Accounts,
		Scheduler:          d.Scheduler,
		Activator:          d.Activator,
		MaxActivationCount: d.MaxActivationCount,
		Log:                lg,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, middleware.Logger)
	r.Use(metrics.Middleware, cors(d.CORSOrigins))

	r.Handle("/metrics", metrics.Handler())
	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"OK"}`))
		})
		api.Post("/session/generate", handlers.GenerateSession(d.Sessions, d.Gate, lg))
		api.Post("/session/validate", handlers.ValidateSession(d.Sessions, d.Gate, lg))
		api.Get("/session/info", handlers.SessionInfo(d.Gate))
		api.Get("/proxy/random", handlers.RandomProxy(d.Proxies))

		api.Group(func(tenant chi.Router) {
			tenant.Use(auth.RequireSession(d.Gate))
			tenant.Get("/accounts", handlers.ListAccounts(d.Accounts, lg))
			tenant.Post("/accounts", handlers.SaveAccount(d.Accounts, lg))
			tenant.Post("/accounts/update", handlers.UpdateAccount(d.Accounts, lg))
			tenant.Post("/accounts/delete", handlers.DeleteAccounts(d.Accounts, lg))
			tenant.Post("/activate", handlers.Activate(act))
			tenant.Post("/activate/sequential", handlers.ActivateSequential(act))

			tenant.Group(func(admin chi.Router) {
				admin.Use(auth.RequireAdmin())
				admin.Get("/proxy/list", handlers.ListProxies(d.Proxies, lg))
				admin.Post("/proxy/add", handlers.AddProxy(d.Proxies, lg))
				admin.Post("/proxy/remove", handlers.RemoveProxy(d.Proxies, lg))
				admin.Post("/proxy/test", handlers.TestProxy(d.Proxies))
				admin.Post("/proxy/test-all", handlers.TestAllProxies(d.Proxies, lg))
				admin.Post("/migrate_data", handlers.MigrateData(d.Importer, lg))
			})
		})
	})
	return r
}

// cors echoes allowed origins back and answers preflight requests.
func cors(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	_, allowAll := allowed["*"]
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[origin]; origin != "" && (ok || allowAll) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+auth.HeaderSessionID)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
