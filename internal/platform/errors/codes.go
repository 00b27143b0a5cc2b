// Package errors provides the structured error taxonomy shared by the
// authority, replica, and member-app services.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeValidation   Code = "VALIDATION"
	CodeMissingField Code = "MISSING_FIELD"

	// Registry errors
	CodeSystemNotFound   Code = "SYSTEM_NOT_FOUND"
	CodeFunctionNotFound Code = "FUNCTION_NOT_FOUND"
	CodeWorkflowNotFound Code = "WORKFLOW_NOT_FOUND"
	CodeGroupRequired    Code = "GROUP_REQUIRED"
	CodeGroupNotFound    Code = "GROUP_NOT_FOUND"

	// Session errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionExpired  Code = "SESSION_EXPIRED"

	// Token errors
	CodeTokenExpired Code = "TOKEN_EXPIRED"
	CodeTokenExists  Code = "TOKEN_EXISTS"
	CodeInvalidStep  Code = "INVALID_STEP"
	CodeUserMismatch Code = "USER_MISMATCH"

	// Workflow instance errors
	CodeInstanceNotFound Code = "INSTANCE_NOT_FOUND"
	CodeInstanceFailed   Code = "INSTANCE_FAILED"

	// Authorization errors
	CodeAdminKeyInvalid  Code = "ADMIN_KEY_INVALID"
	CodeOwnershipInvalid Code = "OWNERSHIP_INVALID"

	// Replica errors
	CodeReadOnlyReplica Code = "READ_ONLY_REPLICA"

	// Upstream errors
	CodeUpstreamRejected    Code = "UPSTREAM_REJECTED"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeValidation,
		CodeMissingField,
		CodeGroupRequired,
		CodeTokenExpired:
		return http.StatusBadRequest

	// Not found - resource doesn't exist
	case CodeSystemNotFound,
		CodeFunctionNotFound,
		CodeWorkflowNotFound,
		CodeGroupNotFound,
		CodeSessionNotFound,
		CodeInstanceNotFound:
		return http.StatusNotFound

	// Gone - resource existed but is past its lifetime
	case CodeSessionExpired:
		return http.StatusGone

	// Forbidden - authorization and replica write rejection
	case CodeAdminKeyInvalid,
		CodeOwnershipInvalid,
		CodeUserMismatch,
		CodeInvalidStep,
		CodeReadOnlyReplica:
		return http.StatusForbidden

	// Conflict - state doesn't allow the operation
	case CodeTokenExists,
		CodeInstanceFailed:
		return http.StatusConflict

	// Upstream failures
	case CodeUpstreamRejected:
		return http.StatusBadGateway
	case CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may safely retry the failed operation.
// Only transport-level unavailability qualifies; logical rejections must not
// be re-sent.
func (c Code) Retryable() bool {
	return c == CodeUpstreamUnavailable
}
