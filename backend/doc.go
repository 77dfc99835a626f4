// Package backend provides a provider-neutral contract for model backends.
//
// This package defines the types and interfaces that allow the dispatch layer
// to drive multiple independently-hosted backends (cloud APIs and local
// runtimes) through a single uniform contract, without being coupled to any
// specific provider's SDK or wire protocol.
//
// # Core Concepts
//
//  1. Requests: the Request type is an immutable per-call value carrying the
//     prompt, optional system text, and free-form context/metadata maps.
//
//  2. Responses: the Response type is the normalized result of one backend
//     invocation. All failure is expressed as a Response carrying an error
//     string and empty output; Execute never panics across the boundary and
//     Duration is always populated, even on failure.
//
//  3. Backend Interface: the Backend interface provides Execute() for one
//     outbound call, IsAvailable() for a lightweight synthetic probe, and
//     Capabilities() for a static capability summary derived from
//     configuration.
//
//  4. Capabilities: the Capabilities type describes what a backend variant
//     can do (context window, reasoning tier, vision, function calling,
//     streaming) so the catalog can search over it.
//
//  5. Errors: the Error type provides a provider-neutral taxonomy
//     (configuration, transport, timeout, not found) with errors.As helpers.
//     All categories are values at the dispatch boundary; none terminate the
//     process.
//
// # Extension Points
//
// To add a new backend provider:
//  1. Implement the Backend interface
//  2. Perform exactly one outbound call per Execute invocation
//  3. Map provider-specific errors into the Response error string
//  4. Implement IsAvailable as a minimal round-trip that returns false on any
//     error without panicking
package backend
