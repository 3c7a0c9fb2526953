package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/chore-rpg-backend/internal/auth"
	"github.com/DoyleJ11/chore-rpg-backend/internal/ws"
)

type Deps struct {
	Rooms         Rooms
	Contributions ContributionLister
	Verifier      *auth.Verifier
	WS            ws.Options
	Log           *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(d.Log))

	// Public routes
	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(d.Rooms, d.WS))

	r.Route("/battles/{battleID}", func(r chi.Router) {
		r.Get("/contributions", ListContributions(d.Contributions, d.Log))
		r.Get("/state", LiveState(d.Rooms))
		r.Post("/end", EndBattle(d.Rooms, d.Verifier, d.Log))
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
