// Package cache owns the versioned on-disk cache namespaces of the offline
// gateway. A namespace is named <bucket>-v<N> (bucket is app-shell or data)
// and maps absolute request URLs to StoragePath/cache/<namespace>/<host>/<path>
// body files plus a JSON sidecar carrying status and headers. Writes go
// through temp file + rename so a crash never leaves a torn entry. The
// Manager seeds the app-shell namespace at install, drops stale versions at
// activation and answers lookups for the read strategies in package proxy.
package cache
