package types

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	KindAuthorization ErrorKind = "authorization"
	KindValidation    ErrorKind = "validation"
	KindStateConflict ErrorKind = "state_conflict"
	KindNotEligible   ErrorKind = "not_eligible"
	KindSignature     ErrorKind = "signature"
	KindIntegrity     ErrorKind = "integrity"
	KindNotFound      ErrorKind = "not_found"
)

// Error 领域错误
// errors.Is 按 Code 匹配，因此包装后的错误仍可与哨兵值比较
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 返回底层错误
func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap 携带底层错误
func (e *Error) Wrap(err error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Err: err}
}

// Withf 替换错误消息
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e.Err}
}

// KindOf 获取错误类别，非领域错误返回空
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf 获取错误码
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// 工作流错误
var (
	ErrWorkflowAlreadyActive = &Error{Kind: KindStateConflict, Code: "WORKFLOW_ALREADY_ACTIVE", Message: "document already has an active workflow"}
	ErrNoCurrentVersion      = &Error{Kind: KindValidation, Code: "NO_CURRENT_VERSION", Message: "document has no current version"}
	ErrWorkflowInactive      = &Error{Kind: KindValidation, Code: "WORKFLOW_INACTIVE", Message: "workflow is not active"}
	ErrNoSteps               = &Error{Kind: KindValidation, Code: "NO_STEPS", Message: "workflow has no active steps"}
	ErrAlreadySubmitted      = &Error{Kind: KindStateConflict, Code: "ALREADY_SUBMITTED", Message: "workflow instance is not in draft"}
	ErrNoActiveStep          = &Error{Kind: KindStateConflict, Code: "NO_ACTIVE_STEP", Message: "workflow instance has no active step"}
	ErrNotEligible           = &Error{Kind: KindNotEligible, Code: "NOT_ELIGIBLE", Message: "actor is not eligible for the current step"}
	ErrNotActive             = &Error{Kind: KindStateConflict, Code: "NOT_ACTIVE", Message: "workflow instance is not active"}
	ErrNotAuthorizedToCancel = &Error{Kind: KindAuthorization, Code: "NOT_AUTHORIZED_TO_CANCEL", Message: "actor may not cancel this workflow"}
	ErrRejectionNotAllowed   = &Error{Kind: KindStateConflict, Code: "REJECTION_NOT_ALLOWED", Message: "workflow does not allow rejection"}
	ErrRevisionNotAllowed    = &Error{Kind: KindStateConflict, Code: "REVISION_NOT_ALLOWED", Message: "workflow does not allow revision requests"}
	ErrInvalidTransition     = &Error{Kind: KindStateConflict, Code: "INVALID_TRANSITION", Message: "invalid workflow state transition"}
	ErrCommentRequired       = &Error{Kind: KindValidation, Code: "COMMENT_REQUIRED", Message: "comment is required for this step"}
	ErrReasonRequired        = &Error{Kind: KindValidation, Code: "REASON_REQUIRED", Message: "reason is required"}
)

// 签名错误
var (
	ErrSignatureRequired     = &Error{Kind: KindSignature, Code: "SIGNATURE_REQUIRED", Message: "electronic signature is required for this step"}
	ErrNotAuthorizedToSign   = &Error{Kind: KindSignature, Code: "NOT_AUTHORIZED_TO_SIGN", Message: "actor is not authorized to sign"}
	ErrInvalidCredential     = &Error{Kind: KindSignature, Code: "INVALID_CREDENTIAL", Message: "invalid signature credential"}
	ErrInvalidMeaning        = &Error{Kind: KindValidation, Code: "INVALID_MEANING", Message: "invalid signature meaning"}
	ErrPINTooShort           = &Error{Kind: KindValidation, Code: "PIN_TOO_SHORT", Message: "signature PIN is too short"}
	ErrAlreadyRevoked        = &Error{Kind: KindStateConflict, Code: "ALREADY_REVOKED", Message: "signature already revoked"}
	ErrNotAuthorizedToRevoke = &Error{Kind: KindAuthorization, Code: "NOT_AUTHORIZED_TO_REVOKE", Message: "actor may not revoke this signature"}
	ErrNotAuthorizedToManage = &Error{Kind: KindAuthorization, Code: "NOT_AUTHORIZED_TO_MANAGE", Message: "actor may not manage signing credentials"}
)

// 审计与通用错误
var (
	ErrIntegrityWrite = &Error{Kind: KindIntegrity, Code: "INTEGRITY_WRITE_ERROR", Message: "failed to append audit entry"}
	ErrNotFound       = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "resource not found"}
	ErrInvalidInput   = &Error{Kind: KindValidation, Code: "INVALID_INPUT", Message: "invalid input"}
	ErrForbidden      = &Error{Kind: KindAuthorization, Code: "FORBIDDEN", Message: "actor lacks the required permission"}
)
