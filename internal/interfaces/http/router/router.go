// Package router assembles the gin engine of the sync API.
package router

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// DefaultAPIVersion is the version segment of every API path
const DefaultAPIVersion = "v1"

// RouteGroup is a declarative set of routes sharing a path prefix and the
// middleware that guards them. Nothing touches the engine until Mount.
type RouteGroup struct {
	name       string
	prefix     string
	middleware []gin.HandlerFunc
	routes     []route
	children   []*RouteGroup
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// RouteInfo describes one mounted route
type RouteInfo struct {
	Group  string
	Method string
	Path   string
}

// NewRouteGroup creates an empty group
func NewRouteGroup(name, prefix string) *RouteGroup {
	return &RouteGroup{name: name, prefix: prefix}
}

// Use appends middleware to the group and its children
func (g *RouteGroup) Use(middleware ...gin.HandlerFunc) *RouteGroup {
	g.middleware = append(g.middleware, middleware...)
	return g
}

// Handle adds a route
func (g *RouteGroup) Handle(method, relPath string, handlers ...gin.HandlerFunc) *RouteGroup {
	g.routes = append(g.routes, route{method: method, path: relPath, handlers: handlers})
	return g
}

func (g *RouteGroup) GET(relPath string, handlers ...gin.HandlerFunc) *RouteGroup {
	return g.Handle(http.MethodGet, relPath, handlers...)
}

func (g *RouteGroup) POST(relPath string, handlers ...gin.HandlerFunc) *RouteGroup {
	return g.Handle(http.MethodPost, relPath, handlers...)
}

func (g *RouteGroup) PUT(relPath string, handlers ...gin.HandlerFunc) *RouteGroup {
	return g.Handle(http.MethodPut, relPath, handlers...)
}

func (g *RouteGroup) DELETE(relPath string, handlers ...gin.HandlerFunc) *RouteGroup {
	return g.Handle(http.MethodDelete, relPath, handlers...)
}

// Group adds a child that inherits this group's prefix and middleware
func (g *RouteGroup) Group(name, prefix string) *RouteGroup {
	child := NewRouteGroup(name, prefix)
	g.children = append(g.children, child)
	return child
}

// Name returns the group name
func (g *RouteGroup) Name() string {
	return g.name
}

// Routes lists the group's routes with paths relative to base
func (g *RouteGroup) Routes(base string) []RouteInfo {
	prefix := joinPath(base, g.prefix)
	out := make([]RouteInfo, 0, len(g.routes))
	for _, r := range g.routes {
		out = append(out, RouteInfo{Group: g.name, Method: r.method, Path: joinPath(prefix, r.path)})
	}
	for _, child := range g.children {
		out = append(out, child.Routes(prefix)...)
	}
	return out
}

func (g *RouteGroup) mount(parent *gin.RouterGroup) {
	rg := parent.Group(g.prefix, g.middleware...)
	for _, r := range g.routes {
		rg.Handle(r.method, r.path, r.handlers...)
	}
	for _, child := range g.children {
		child.mount(rg)
	}
}

// Mount registers groups under /api/<version> and returns the route table
func Mount(engine *gin.Engine, version string, groups ...*RouteGroup) []RouteInfo {
	if version == "" {
		version = DefaultAPIVersion
	}
	base := "/api/" + version
	api := engine.Group(base)

	var table []RouteInfo
	for _, g := range groups {
		g.mount(api)
		table = append(table, g.Routes(base)...)
	}
	return table
}

// joinPath joins like gin does, keeping a trailing slash of rel
func joinPath(base, rel string) string {
	if rel == "" {
		return base
	}
	joined := path.Join(base, rel)
	if rel[len(rel)-1] == '/' && joined[len(joined)-1] != '/' {
		return joined + "/"
	}
	return joined
}
