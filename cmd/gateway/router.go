package main

import (
	"net/http"
	"sort"

	"middleware-guard/middleware/ratelimit"
	"middleware-guard/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
)

// newRouter monta as rotas do gateway. Cada caminho sensível recebe seu
// endpoint lógico; o resto cai na rota genérica (política por método).
// guard nil desliga o rate limit, mas mantém o roteamento.
func newRouter(guard *ratelimit.Guard, upstream http.Handler, routes map[domain.Endpoint]string, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	wrap := func(ep domain.Endpoint) http.Handler {
		if guard == nil {
			h := ratelimit.SecurityHeaders()
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				for k, v := range h {
					w.Header()[k] = v
				}
				upstream.ServeHTTP(w, req)
			})
		}
		return guard.Middleware(ratelimit.Route{Endpoint: ep})(upstream)
	}

	eps := make([]domain.Endpoint, 0, len(routes))
	for ep := range routes {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool { return eps[i] < eps[j] })
	for _, ep := range eps {
		r.Handle(routes[ep], wrap(ep))
	}
	r.Handle("/*", wrap(domain.EndpointGeneric))
	return r
}
