// Package gateway bridges one stdio-attached JSON-RPC host to a fleet of HTTP
// tool servers. It reads newline-delimited requests from stdin, answers the
// handshake locally, aggregates backend tool catalogs, routes invocations to
// the owning backend through the lazily built registry, and writes every
// response as one compact JSON line on stdout. Diagnostics go exclusively to
// the injected structured logger; a single stray write to stdout would corrupt
// the session.
package gateway
