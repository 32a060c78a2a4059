// Package server implements the MCP gateway over HTTP.
//
// One POST /mcp endpoint speaks JSON-RPC 2.0, guarded by a bearer token:
// initialize assigns the caller a session id through the Mcp-Session-Id
// header, tools/list advertises the chart tools and tools/call runs them.
// Finished charts are served unauthenticated from GET /charts?id=..., and
// GET /healthz answers liveness probes.
//
// A tool call flows resolve -> fetch -> render -> publish: the catalog maps
// the caller's asset reference to a provider id, the market fetcher supplies
// the cached price series, the render package draws the PNG and the artifact
// publisher stores it and returns its public URL. Failures are reduced to
// their errs.Kind at the boundary so provider detail never reaches a caller.
package server
