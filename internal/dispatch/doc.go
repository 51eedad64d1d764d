// Package dispatch runs the request loop for the single host connection.
//
// A Session reads self-delimiting JSON request records, resolves each method
// against the capability table, invokes it and writes exactly one response
// before reading the next request.
//
// Request-level problems never end the session:
//   - Frame that is not a JSON object → logged and counted, no response
//     (there is no id to echo)
//   - JSON object that is not a valid request → error "invalid request: ..."
//     with the object's id (0 when absent)
//   - Unknown method → error "method <name> not found"
//   - Operation failure → error carries the operation's message
//   - Operation panic → error "call <name> failed: <panic>", stack in the log
//
// The session ends when the peer closes the connection, the context is
// cancelled, or the transport fails. Only the last case is reported as an
// error.
//
// Return shapes:
//   - Void → result null, error null
//   - Value → result set, error null
//   - Failure → result null, error set
//
// A string value beginning with a failure marker (default "错误", "失败") is
// reported as a failure; see Translator.
package dispatch
