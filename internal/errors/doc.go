// Package errors provides the structured error type shared by every layer of rpg-encounters.
//
// Errors carry a Code, a user-facing Message, an optional Cause and free-form Meta.
// Codes map onto HTTP statuses at the handler boundary:
//
//	Unauthenticated     401  missing or invalid bearer credential
//	PermissionDenied    403  wrong role, or a member touching an entry they do not own
//	NotFound            404  encounter, entry or campaign absent or not visible to the actor
//	FailedPrecondition  409  encounter state does not allow the operation (not started)
//	AlreadyExists       409  duplicate member entry in an encounter
//	InvalidArgument     400  malformed request or patch
//	Unavailable         503  character service could not be reached
//
// Repositories return NotFound/AlreadyExists and wrap storage failures with Wrap.
// Orchestrators validate input with a ValidationBuilder and check preconditions.
// Handlers render the error with its HTTP status and never inspect messages.
//
//	vb := errors.NewValidationBuilder()
//	errors.ValidateRequired("name", input.Name, vb)
//	if err := vb.Build(); err != nil {
//	    return nil, err
//	}
package errors
