// Curator - Media Collection Curation and Library Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/curator

/*
Package middleware provides the HTTP middleware Curator adds on top of the
chi ecosystem (RealIP, Recoverer, cors, httprate).

Key Components:

  - RequestID: X-Request-ID propagation into the logging context
  - PrometheusMetrics: request counts, latency and in-flight gauge, labeled
    by chi route pattern so path parameters do not explode cardinality
  - AccessLog: one structured log line per request

All three use the plain http.HandlerFunc shape; the api package adapts them
for chi's r.Use:

	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chiMiddleware(middleware.AccessLog))
	r.Use(chiMiddleware(middleware.PrometheusMetrics))

Handlers read the request id back with GetRequestID or log through
logging.Ctx(r.Context()), which already carries it.
*/
package middleware
