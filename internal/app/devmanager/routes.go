// Package devmanager собирает HTTP-сервис DevManager: страницы входа, тарифов,
// кабинета и админки за guard.
package devmanager

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/magabrotheeeer/devmanager/internal/config"
	"github.com/magabrotheeeer/devmanager/internal/guard"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/admin"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/billing"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/profile"
	sessionhandler "github.com/magabrotheeeer/devmanager/internal/http/handlers/session"
	"github.com/magabrotheeeer/devmanager/internal/http/handlers/workspace"
	"github.com/magabrotheeeer/devmanager/internal/http/middlewarectx"
)

// Регионы guard, они же метки метрик
const (
	RegionCheckout  = "checkout"
	RegionDashboard = "dashboard"
	RegionAdmin     = "admin"
)

// Handlers обработчики страниц
type Handlers struct {
	Session   *sessionhandler.Handler
	Billing   *billing.Handler
	Workspace *workspace.Handler
	Profile   *profile.Handler
	Admin     *admin.Handler
	Health    http.Handler
	Metrics   http.Handler
}

// RouteDeps зависимости middleware
type RouteDeps struct {
	Sessions middlewarectx.Sessions
	Limiter  *middlewarectx.RateLimiter
	Recorder middlewarectx.DecisionRecorder
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config, h Handlers, deps RouteDeps) {
	routes := guardRoutes(cfg.Routes)
	guarded := func(region string, req guard.Requirements) func(http.Handler) http.Handler {
		return middlewarectx.Guard(logger, middlewarectx.GuardConfig{
			Region:       region,
			Requirements: req,
			Routes:       routes,
			PendingWait:  cfg.PendingWait,
			Recorder:     deps.Recorder,
		})
	}

	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middlewarectx.Session(logger, deps.Sessions, cfg.Session))

		// Открытые конечные точки
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(logger, deps.Limiter))
			r.Post("/auth/sign-in", h.Session.SignIn)
			r.Post("/auth/sign-up", h.Session.SignUp)
		})
		r.Post("/auth/sign-out", h.Session.SignOut)
		r.Get("/auth/session", h.Session.Current)
		r.Get("/plans", h.Billing.Plans)
		r.Get("/plans/{planID}", h.Billing.Plan)

		// Оформление подписки: только вход
		r.Group(func(r chi.Router) {
			r.Use(guarded(RegionCheckout, guard.Requirements{}))
			r.Post("/checkout", h.Billing.Checkout)
		})

		// Кабинет: вход и активная подписка
		r.Route("/dashboard", func(r chi.Router) {
			r.Use(guarded(RegionDashboard, guard.Requirements{RequireSubscription: true}))

			r.Get("/overview", h.Workspace.Overview)
			r.Get("/subscription", h.Billing.Subscription)

			r.Get("/profile", h.Profile.Get)
			r.Put("/profile", h.Profile.Update)
			r.Post("/profile/password", h.Profile.ChangePassword)

			r.Get("/clients", h.Workspace.ListClients)
			r.Post("/clients", h.Workspace.CreateClient)
			r.Get("/clients/{clientID}", h.Workspace.GetClient)
			r.Put("/clients/{clientID}", h.Workspace.UpdateClient)
			r.Delete("/clients/{clientID}", h.Workspace.DeleteClient)

			r.Get("/projects", h.Workspace.ListProjects)
			r.Post("/projects", h.Workspace.CreateProject)
			r.Put("/projects/{projectID}", h.Workspace.UpdateProject)
			r.Delete("/projects/{projectID}", h.Workspace.DeleteProject)
			r.Get("/projects/{projectID}/tasks", h.Workspace.ListTasks)
			r.Post("/projects/{projectID}/tasks", h.Workspace.CreateTask)
			r.Patch("/tasks/{taskID}/status", h.Workspace.MoveTask)
			r.Delete("/tasks/{taskID}", h.Workspace.DeleteTask)

			r.Get("/contracts", h.Workspace.ListContracts)
			r.Post("/contracts", h.Workspace.CreateContract)
			r.Put("/contracts/{contractID}", h.Workspace.UpdateContract)
			r.Delete("/contracts/{contractID}", h.Workspace.DeleteContract)

			r.Get("/notifications", h.Workspace.ListNotifications)
			r.Post("/notifications/{notificationID}/read", h.Workspace.MarkRead)
		})

		// Админка: вход и роль admin
		r.Route("/admin", func(r chi.Router) {
			r.Use(guarded(RegionAdmin, guard.Requirements{RequireAdmin: true}))

			r.Get("/overview", h.Admin.Overview)
			r.Get("/users", h.Admin.Users)
			r.Delete("/users/{userID}", h.Admin.DeleteUser)
			r.Put("/users/{userID}/role", h.Admin.SetRole)
			r.Get("/plans", h.Admin.Plans)
			r.Put("/plans/{planID}", h.Admin.UpdatePlan)
			r.Put("/plans/{planID}/active", h.Admin.SetPlanActive)
			r.Get("/payments", h.Admin.Payments)
			r.Get("/payments/export", h.Admin.ExportPayments)
		})
	})

	r.Handle("/health", h.Health)
	r.Handle("/metrics", h.Metrics)
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

func guardRoutes(cfg config.Routes) guard.Routes {
	return guard.Routes{
		SignIn:        cfg.SignIn,
		MemberArea:    cfg.MemberArea,
		PlanSelection: cfg.PlanSelection,
		AdminArea:     cfg.AdminArea,
	}
}
