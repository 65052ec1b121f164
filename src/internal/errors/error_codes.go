// Package errors provides unified error types and codes.
package errors

// Standard JSON-RPC error codes as defined in RFC 7309
const (
	// Pre-defined JSON-RPC errors
	ParseError     = -32700 // Invalid JSON was received by the server
	InvalidRequest = -32600 // The JSON sent is not a valid Request object
	MethodNotFound = -32601 // The method does not exist / is not available
	InvalidParams  = -32602 // Invalid method parameter(s)
	InternalError  = -32603 // Internal JSON-RPC error
)

// Router error codes (range: -33000 to -33099)
const (
	NoBackendsAvailable  = -33001 // No registered or available backend could be selected
	UnknownBackend       = -33002 // A mapping or route references an unregistered backend
	InvalidConfiguration = -33010 // Routing configuration failed validation
	IncompatibleDocument = -33011 // Routing document version is not supported
	PersistenceFailure   = -33020 // Routing state could not be loaded or saved
)

// CodeForError maps a router error onto its JSON-RPC error code.
func CodeForError(err error) int {
	switch {
	case err == nil:
		return 0
	case IsNoBackendsAvailableError(err):
		return NoBackendsAvailable
	case IsUnknownBackendError(err):
		return UnknownBackend
	case IsIncompatibleVersionError(err):
		return IncompatibleDocument
	case IsValidationError(err):
		return InvalidParams
	case IsPersistenceError(err):
		return PersistenceFailure
	default:
		return InternalError
	}
}
