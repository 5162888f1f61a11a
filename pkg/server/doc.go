// Package server implements the request coordinator of the RPC engine.
//
// A Server turns one inbound request frame into one response frame:
//
//  1. read the raw header and negotiate the serializer
//  2. check the communication id against the master's response slot,
//     replaying the cached response of a retried request
//  3. execute the calls in order, stopping at the first failure
//  4. assemble changed properties, pending callback results and call
//     results into one response, compressing it when the client accepts
//     gzip and the payload is large enough
//
// Calls that carry a callback id run asynchronously. Their results are
// queued on the master session and either pushed to a registered
// receiver or piggybacked on the next response.
//
// The transport is not part of this package: anything that can provide a
// Request and a ResponseWriter can drive a Server.
package server
