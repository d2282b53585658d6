package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Tris3514/EmailSystem/internal/conversation"
	"github.com/Tris3514/EmailSystem/internal/ratelimit"
	"github.com/Tris3514/EmailSystem/internal/scheduler"
	"github.com/Tris3514/EmailSystem/internal/web/handlers"
	"github.com/Tris3514/EmailSystem/internal/web/middleware"
)

// RouterConfig holds the dependencies for building the HTTP router.
type RouterConfig struct {
	Conversations *conversation.Service
	Accounts      *handlers.AccountHandler
	Engine        *scheduler.Engine
	Limiter       *ratelimit.Limiter
	AllowOrigin   string
}

// NewRouter builds the chi router serving the JSON API.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	conversations := handlers.NewConversationHandler(cfg.Conversations, cfg.Engine)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.AllowOrigin))
		r.Use(middleware.RateLimit(cfg.Limiter))

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", cfg.Accounts.HandleList)
			r.Post("/", cfg.Accounts.HandleCreate)
			r.Get("/{accountID}", cfg.Accounts.HandleGet)
			r.Put("/{accountID}", cfg.Accounts.HandleUpdate)
			r.Delete("/{accountID}", cfg.Accounts.HandleDelete)
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversations.HandleList)
			r.Post("/", conversations.HandleCreate)
			r.Get("/{conversationID}", conversations.HandleGet)
			r.Put("/{conversationID}", conversations.HandleUpdate)
			r.Delete("/{conversationID}", conversations.HandleDelete)

			r.Post("/{conversationID}/messages/generate", conversations.HandleGenerateNext)
			r.Post("/{conversationID}/generate", conversations.HandleGenerateFull)
			r.Post("/{conversationID}/send", conversations.HandleSendAll)
			r.Post("/{conversationID}/send/cancel", conversations.HandleCancelSend)
			r.Post("/{conversationID}/messages/{messageID}/send", conversations.HandleSendOne)
			r.Delete("/{conversationID}/messages", conversations.HandleClearMessages)
		})
	})

	return r
}
