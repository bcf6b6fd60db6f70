package dao

import "errors"

var (
	// ErrNotFound indicates the target record is absent.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a second creation at an occupied slot.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrApprovalNotMet indicates execution before the thresholds are satisfied.
	ErrApprovalNotMet = errors.New("approval thresholds not met")
	// ErrAlreadyExecuted indicates a proposal that already ran.
	ErrAlreadyExecuted = errors.New("proposal already executed")
	// ErrMalformedChangePayload indicates a change payload that does not decode for its kind.
	ErrMalformedChangePayload = errors.New("malformed change payload")
	// ErrUnauthorized indicates the caller lacks the relationship the operation requires.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrVotingClosed indicates a vote outside the proposal's [start, end) window.
	ErrVotingClosed = errors.New("voting window closed")
	// ErrInvalidArgument indicates an input that fails basic shape checks.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict indicates a concurrent writer invalidated the transaction.
	ErrConflict = errors.New("concurrent modification")
)

// Stable error codes, one per sentinel.
const (
	CodeNotFound               = "TAHU/GOVERNANCE/NOT_FOUND"
	CodeAlreadyExists          = "TAHU/GOVERNANCE/ALREADY_EXISTS"
	CodeApprovalNotMet         = "TAHU/GOVERNANCE/APPROVAL_NOT_MET"
	CodeAlreadyExecuted        = "TAHU/GOVERNANCE/ALREADY_EXECUTED"
	CodeMalformedChangePayload = "TAHU/GOVERNANCE/MALFORMED_CHANGE_PAYLOAD"
	CodeUnauthorized           = "TAHU/GOVERNANCE/UNAUTHORIZED"
	CodeVotingClosed           = "TAHU/GOVERNANCE/VOTING_CLOSED"
	CodeInvalidArgument        = "TAHU/GOVERNANCE/INVALID_ARGUMENT"
	CodeConflict               = "TAHU/STORE/CONFLICT"
	CodeInternal               = "TAHU/INTERNAL"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, CodeNotFound},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrApprovalNotMet, CodeApprovalNotMet},
	{ErrAlreadyExecuted, CodeAlreadyExecuted},
	{ErrMalformedChangePayload, CodeMalformedChangePayload},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrVotingClosed, CodeVotingClosed},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrConflict, CodeConflict},
}

// ErrorCode maps err to its stable code. Nil maps to "" and anything
// outside the taxonomy maps to CodeInternal.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
