package http

import (
	"net/http"

	"toasty/internal/auth"
	"toasty/internal/config"
	"toasty/internal/http/handler"
	mw "toasty/internal/http/middleware"
	"toasty/internal/room"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Deps struct {
	DB     *gorm.DB
	JWT    *auth.JWT
	Store  *room.Store
	Engine handler.Checker
	Sched  handler.Registry
	Chat   handler.Directory
	Log    *zap.Logger
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{DB: d.DB, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{DB: d.DB}
	r.With(auth.RequireRole(d.JWT, auth.RoleLocked)).Get("/me", me.Me)

	rh := &handler.RoomHandler{
		Store:    d.Store,
		Users:    &auth.Store{DB: d.DB},
		Engine:   d.Engine,
		Sched:    d.Sched,
		Chat:     d.Chat,
		Validate: validator.New(),
		Log:      d.Log,
	}
	uh := &handler.UserHandler{DB: d.DB, Store: d.Store}

	r.Route("/rooms", func(r chi.Router) {
		r.Use(auth.RequireRole(d.JWT, auth.RoleUser))

		r.Get("/", rh.List)
		r.Post("/", rh.Create)
		r.With(auth.RequireRole(d.JWT, auth.RoleModerator)).Get("/all", rh.All)

		r.Get("/{roomID}", rh.Details)
		r.Post("/{roomID}/edit", rh.Edit)
		r.Post("/{roomID}/delete", rh.Delete)
		r.Post("/{roomID}/clearerrors", rh.ClearErrors)
		r.With(auth.RequireRole(d.JWT, auth.RoleDeveloper)).Post("/{roomID}/forcecheck", rh.ForceCheck)
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(auth.RequireRole(d.JWT, auth.RoleUser))

		r.With(auth.RequireRole(d.JWT, auth.RoleModerator)).Get("/", uh.List)
		r.Get("/{userID}/rooms", uh.Rooms)
	})

	return r
}
