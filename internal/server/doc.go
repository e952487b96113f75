// Package server hosts the Fiber HTTP service, the request middleware chain
// and the origin registry that maps intercepted requests onto the upstream
// POS server or a third-party asset host. The proxy package plugs in through
// ProxyHandler; diagnostics and message endpoints live under /-/ and are
// registered by the routes subpackage.
package server
