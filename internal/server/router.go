package server

import (
	"net/http"

	"github.com/charmbracelet/log"
)

// BasicRouter is a [Router] backed by [http.ServeMux] method patterns.
type BasicRouter struct {
	mux         *http.ServeMux
	middlewares []Middleware
}

// NewBasicRouter creates an empty [BasicRouter].
func NewBasicRouter() *BasicRouter {
	return &BasicRouter{mux: http.NewServeMux()}
}

// Use appends middleware. It applies to handlers registered afterwards.
func (r *BasicRouter) Use(middleware ...Middleware) {
	r.middlewares = append(r.middlewares, middleware...)
}

// Handle registers handler for method and path. Other methods on the path get a 405.
func (r *BasicRouter) Handle(method, path string, handler http.Handler) {
	r.mux.Handle(method+" "+path, r.Apply(handler))
}

// Handler registers handler for every path it reports.
func (r *BasicRouter) Handler(handler Handler) {
	wrapped := r.Apply(handler)
	for _, route := range handler.Routes() {
		r.mux.Handle(route, wrapped)
	}
}

func (r *BasicRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Apply wraps handler with the registered middleware; the first added runs outermost.
func (r *BasicRouter) Apply(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		wrapped = r.middlewares[i](wrapped)
	}
	return wrapped
}

// Routes are the endpoints of the web service. Nil entries are not mounted.
type Routes struct {
	OAuth   *OAuthHandler
	DB      Pinger
	Metrics http.Handler
}

// NewRouter mounts routes behind the recovery and logging middleware.
func NewRouter(logger *log.Logger, routes Routes) *BasicRouter {
	r := NewBasicRouter()
	r.Use(Recover(logger), Logging(logger))

	if routes.OAuth != nil {
		r.Handler(routes.OAuth)
	}
	if routes.DB != nil {
		r.Handle(http.MethodGet, "/healthz", Health(routes.DB))
	}
	if routes.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", routes.Metrics)
	}
	return r
}
