// Package brix reconciles an identity provider's session with the
// application profile record that backs the BRIX measurement app, plus the
// Bun repositories for profiles, measurements, and leaderboards.
//
// Session-profile consistency:
//   - A profile row is not created synchronously at sign-up; a backend
//     trigger materializes it shortly afterwards. "Authenticated" and
//     "profile available" therefore arrive as two independent facts, and the
//     Engine holds the one composite AuthState that readers may trust.
//   - Every session-change notification and mutation flows through a single
//     work queue with a single consumer, so transitions are serialized by
//     construction. A newer session notification preempts an in-flight
//     profile resolution; the superseded result is discarded silently.
//   - ProfileResolver absorbs the trigger lag with a bounded, injectable
//     retry policy. Missing rows and timeouts retry, structural store errors
//     short-circuit.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter the engine uses to
//     describe session and profile lifecycle events. Sinks run best-effort
//     (errors are logged) so you can forward to a database or queue without
//     blocking authentication.
package brix
