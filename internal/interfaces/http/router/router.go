// Package router mounts handler route groups under a versioned API prefix.
package router

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar mounts its routes on an API group.
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup) []Route
}

// Route is one mounted endpoint.
type Route struct {
	Method string
	Path   string
}

// Router collects registrars and mounts them under /api/{version}.
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithAPIVersion sets the version segment. The default is "v1".
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register queues a registrar for Setup.
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup mounts every registrar and returns the routes in registration order.
func (r *Router) Setup() []Route {
	api := r.engine.Group("/api/" + r.apiVersion)
	var mounted []Route
	for _, registrar := range r.registrars {
		mounted = append(mounted, registrar.RegisterRoutes(api)...)
	}
	return mounted
}

// Group is the route table of one resource. Group middleware runs before
// any per-route handlers.
type Group struct {
	prefix     string
	middleware []gin.HandlerFunc
	routes     []groupRoute
}

type groupRoute struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewGroup starts a group mounted at prefix.
func NewGroup(prefix string) *Group {
	return &Group{prefix: prefix}
}

// Use appends group middleware.
func (g *Group) Use(middleware ...gin.HandlerFunc) *Group {
	g.middleware = append(g.middleware, middleware...)
	return g
}

func (g *Group) GET(relativePath string, handlers ...gin.HandlerFunc) *Group {
	return g.Handle(http.MethodGet, relativePath, handlers...)
}

func (g *Group) POST(relativePath string, handlers ...gin.HandlerFunc) *Group {
	return g.Handle(http.MethodPost, relativePath, handlers...)
}

// Handle adds a route. The last handler serves the request, earlier ones act
// as route middleware.
func (g *Group) Handle(method, relativePath string, handlers ...gin.HandlerFunc) *Group {
	g.routes = append(g.routes, groupRoute{method: method, path: relativePath, handlers: handlers})
	return g
}

// RegisterRoutes implements RouteRegistrar.
func (g *Group) RegisterRoutes(rg *gin.RouterGroup) []Route {
	group := rg.Group(g.prefix, g.middleware...)
	mounted := make([]Route, 0, len(g.routes))
	for _, rt := range g.routes {
		group.Handle(rt.method, rt.path, rt.handlers...)
		mounted = append(mounted, Route{
			Method: rt.method,
			Path:   path.Join(group.BasePath(), rt.path),
		})
	}
	return mounted
}
