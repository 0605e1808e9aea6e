package api

import (
	"time"

	"github.com/mautops/docflow-gin/internal/audit"
	"github.com/mautops/docflow-gin/internal/model"
)

// InstanceResponse 工作流实例响应
type InstanceResponse struct {
	ID                string     `json:"id"`
	WorkflowID        string     `json:"workflow_id"`
	DocumentID        string     `json:"document_id"`
	DocumentVersionID string     `json:"document_version_id"`
	InitiatedBy       string     `json:"initiated_by"`
	Status            string     `json:"status"`
	CurrentStepOrder  int        `json:"current_step_order"`
	CurrentStepID     *string    `json:"current_step_id,omitempty"`
	InitiatedAt       time.Time  `json:"initiated_at"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletedBy       string     `json:"completed_by,omitempty"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	FinalComment      string     `json:"final_comment,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toInstanceResponse(m *model.WorkflowInstanceModel) *InstanceResponse {
	if m == nil {
		return nil
	}
	return &InstanceResponse{
		ID:                m.ID,
		WorkflowID:        m.WorkflowID,
		DocumentID:        m.DocumentID,
		DocumentVersionID: m.DocumentVersionID,
		InitiatedBy:       m.InitiatedBy,
		Status:            m.Status,
		CurrentStepOrder:  m.CurrentStepOrder,
		CurrentStepID:     m.CurrentStepID,
		InitiatedAt:       m.InitiatedAt,
		SubmittedAt:       m.SubmittedAt,
		CompletedAt:       m.CompletedAt,
		CompletedBy:       m.CompletedBy,
		DueDate:           m.DueDate,
		FinalComment:      m.FinalComment,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toInstanceResponses(items []*model.WorkflowInstanceModel) []*InstanceResponse {
	result := make([]*InstanceResponse, 0, len(items))
	for _, item := range items {
		result = append(result, toInstanceResponse(item))
	}
	return result
}

// ActionResponse 步骤动作响应
type ActionResponse struct {
	ID                string    `json:"id"`
	StepID            string    `json:"step_id"`
	StepOrder         int       `json:"step_order"`
	UserID            string    `json:"user_id"`
	Action            string    `json:"action"`
	Comment           string    `json:"comment,omitempty"`
	ActionAt          time.Time `json:"action_at"`
	SignatureRequired bool      `json:"signature_required"`
	SignatureProvided bool      `json:"signature_provided"`
	SignatureID       string    `json:"signature_id,omitempty"`
}

func toActionResponses(items []*model.StepActionModel) []*ActionResponse {
	result := make([]*ActionResponse, 0, len(items))
	for _, m := range items {
		result = append(result, &ActionResponse{
			ID:                m.ID,
			StepID:            m.StepID,
			StepOrder:         m.StepOrder,
			UserID:            m.UserID,
			Action:            m.Action,
			Comment:           m.Comment,
			ActionAt:          m.ActionAt,
			SignatureRequired: m.SignatureRequired,
			SignatureProvided: m.SignatureProvided,
			SignatureID:       m.SignatureID,
		})
	}
	return result
}

// HistoryResponse 状态变更响应
type HistoryResponse struct {
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Reason    string    `json:"reason,omitempty"`
	Operator  string    `json:"operator"`
	CreatedAt time.Time `json:"created_at"`
}

func toHistoryResponses(items []*model.StateHistoryModel) []*HistoryResponse {
	result := make([]*HistoryResponse, 0, len(items))
	for _, m := range items {
		result = append(result, &HistoryResponse{
			FromState: m.FromState,
			ToState:   m.ToState,
			Reason:    m.Reason,
			Operator:  m.Operator,
			CreatedAt: m.CreatedAt,
		})
	}
	return result
}

// SignatureResponse 电子签名响应
// 不返回签名载荷
type SignatureResponse struct {
	ID                 string     `json:"id"`
	SignerID           string     `json:"signer_id"`
	SignerName         string     `json:"signer_name"`
	SignerTitle        string     `json:"signer_title,omitempty"`
	DocumentID         string     `json:"document_id,omitempty"`
	DocumentVersionID  string     `json:"document_version_id,omitempty"`
	SignableType       string     `json:"signable_type"`
	SignableID         string     `json:"signable_id"`
	Meaning            string     `json:"meaning"`
	MeaningDescription string     `json:"meaning_description"`
	SignatureHash      string     `json:"signature_hash"`
	DocumentHash       string     `json:"document_hash"`
	SignedAt           time.Time  `json:"signed_at"`
	IsRevoked          bool       `json:"is_revoked"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	RevokedBy          string     `json:"revoked_by,omitempty"`
	RevocationReason   string     `json:"revocation_reason,omitempty"`
	Reason             string     `json:"reason,omitempty"`
	Comment            string     `json:"comment,omitempty"`
}

func toSignatureResponse(m *model.SignatureModel) *SignatureResponse {
	return &SignatureResponse{
		ID:                 m.ID,
		SignerID:           m.SignerID,
		SignerName:         m.SignerName,
		SignerTitle:        m.SignerTitle,
		DocumentID:         m.DocumentID,
		DocumentVersionID:  m.DocumentVersionID,
		SignableType:       m.SignableType,
		SignableID:         m.SignableID,
		Meaning:            m.Meaning,
		MeaningDescription: m.MeaningDescription,
		SignatureHash:      m.SignatureHash,
		DocumentHash:       m.DocumentHash,
		SignedAt:           m.SignedAt,
		IsRevoked:          m.IsRevoked,
		RevokedAt:          m.RevokedAt,
		RevokedBy:          m.RevokedBy,
		RevocationReason:   m.RevocationReason,
		Reason:             m.Reason,
		Comment:            m.Comment,
	}
}

func toSignatureResponses(items []*model.SignatureModel) []*SignatureResponse {
	result := make([]*SignatureResponse, 0, len(items))
	for _, item := range items {
		result = append(result, toSignatureResponse(item))
	}
	return result
}

// AuditEntryResponse 审计记录响应
type AuditEntryResponse struct {
	ID            string                 `json:"id"`
	Sequence      int64                  `json:"sequence"`
	UserID        string                 `json:"user_id"`
	UserName      string                 `json:"user_name"`
	Action        string                 `json:"action"`
	Category      string                 `json:"category"`
	Description   string                 `json:"description"`
	SubjectType   string                 `json:"subject_type,omitempty"`
	SubjectID     string                 `json:"subject_id,omitempty"`
	DocumentID    string                 `json:"document_id,omitempty"`
	OldValues     map[string]interface{} `json:"old_values,omitempty"`
	NewValues     map[string]interface{} `json:"new_values,omitempty"`
	ChangedFields []string               `json:"changed_fields,omitempty"`
	Comment       string                 `json:"comment,omitempty"`
	Status        string                 `json:"status"`
	FailureReason string                 `json:"failure_reason,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
	IPAddress     string                 `json:"ip_address,omitempty"`
	IsGMPCritical bool                   `json:"is_gmp_critical"`
	PreviousHash  string                 `json:"previous_hash"`
	EntryHash     string                 `json:"entry_hash"`
}

func toAuditEntryResponse(m *model.AuditLogModel) *AuditEntryResponse {
	return &AuditEntryResponse{
		ID:            m.ID,
		Sequence:      m.Sequence,
		UserID:        m.UserID,
		UserName:      m.UserName,
		Action:        m.Action,
		Category:      m.Category,
		Description:   m.Description,
		SubjectType:   m.SubjectType,
		SubjectID:     m.SubjectID,
		DocumentID:    m.DocumentID,
		OldValues:     m.OldValues,
		NewValues:     m.NewValues,
		ChangedFields: m.ChangedFields,
		Comment:       m.Comment,
		Status:        m.Status,
		FailureReason: m.FailureReason,
		OccurredAt:    m.OccurredAt,
		IPAddress:     m.IPAddress,
		IsGMPCritical: m.IsGMPCritical,
		PreviousHash:  m.PreviousHash,
		EntryHash:     m.EntryHash,
	}
}

func toAuditEntryResponses(items []*model.AuditLogModel) []*AuditEntryResponse {
	result := make([]*AuditEntryResponse, 0, len(items))
	for _, item := range items {
		result = append(result, toAuditEntryResponse(item))
	}
	return result
}

// AuditReportResponse 审计报告响应
type AuditReportResponse struct {
	PeriodFrom        *time.Time            `json:"period_from,omitempty"`
	PeriodTo          *time.Time            `json:"period_to,omitempty"`
	TotalEntries      int64                 `json:"total_entries"`
	FiltersApplied    map[string]string     `json:"filters_applied"`
	IntegrityVerified bool                  `json:"integrity_verified"`
	Findings          []audit.Finding       `json:"findings"`
	Entries           []*AuditEntryResponse `json:"entries"`
	GeneratedAt       time.Time             `json:"generated_at"`
	GeneratedBy       string                `json:"generated_by"`
}

func toAuditReportResponse(r *audit.Report) *AuditReportResponse {
	return &AuditReportResponse{
		PeriodFrom:        r.PeriodFrom,
		PeriodTo:          r.PeriodTo,
		TotalEntries:      r.TotalEntries,
		FiltersApplied:    r.FiltersApplied,
		IntegrityVerified: r.IntegrityVerified,
		Findings:          r.Findings,
		Entries:           toAuditEntryResponses(r.Entries),
		GeneratedAt:       r.GeneratedAt,
		GeneratedBy:       r.GeneratedBy,
	}
}

// NotificationResponse 通知响应
type NotificationResponse struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Title       string     `json:"title"`
	Message     string     `json:"message"`
	Priority    string     `json:"priority"`
	SubjectType string     `json:"subject_type,omitempty"`
	SubjectID   string     `json:"subject_id,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toNotificationResponses(items []*model.NotificationModel) []*NotificationResponse {
	result := make([]*NotificationResponse, 0, len(items))
	for _, m := range items {
		result = append(result, &NotificationResponse{
			ID:          m.ID,
			Type:        m.Type,
			Title:       m.Title,
			Message:     m.Message,
			Priority:    m.Priority,
			SubjectType: m.SubjectType,
			SubjectID:   m.SubjectID,
			ReadAt:      m.ReadAt,
			CreatedAt:   m.CreatedAt,
		})
	}
	return result
}

// DocumentResponse 受控文档响应
type DocumentResponse struct {
	ID               string    `json:"id"`
	DocumentNumber   string    `json:"document_number"`
	Title            string    `json:"title"`
	Status           string    `json:"status"`
	CurrentVersionID *string   `json:"current_version_id,omitempty"`
	IsGMPCritical    bool      `json:"is_gmp_critical"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toDocumentResponse(m *model.DocumentModel) *DocumentResponse {
	return &DocumentResponse{
		ID:               m.ID,
		DocumentNumber:   m.DocumentNumber,
		Title:            m.Title,
		Status:           m.StatusCode,
		CurrentVersionID: m.CurrentVersionID,
		IsGMPCritical:    m.IsGMPCritical,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// StepResponse 工作流步骤响应
type StepResponse struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Description           string   `json:"description,omitempty"`
	StepOrder             int      `json:"step_order"`
	StepType              string   `json:"step_type"`
	RequiredUserID        string   `json:"required_user_id,omitempty"`
	RequiredRoleID        string   `json:"required_role_id,omitempty"`
	AllowedRoles          []string `json:"allowed_roles,omitempty"`
	AnyUserWithPermission bool     `json:"any_user_with_permission"`
	RequiresComment       bool     `json:"requires_comment"`
	RequiresSignature     bool     `json:"requires_signature"`
	TimeoutDays           int      `json:"timeout_days,omitempty"`
	IsActive              bool     `json:"is_active"`
}

// WorkflowResponse 工作流模板响应
type WorkflowResponse struct {
	ID                         string          `json:"id"`
	Code                       string          `json:"code"`
	Name                       string          `json:"name"`
	Description                string          `json:"description,omitempty"`
	Type                       string          `json:"type"`
	RequiresSequentialApproval bool            `json:"requires_sequential_approval"`
	AllowsRejection            bool            `json:"allows_rejection"`
	AllowsRevisionRequest      bool            `json:"allows_revision_request"`
	IsActive                   bool            `json:"is_active"`
	Steps                      []*StepResponse `json:"steps"`
	CreatedBy                  string          `json:"created_by"`
	CreatedAt                  time.Time       `json:"created_at"`
}

func toWorkflowResponse(m *model.WorkflowModel) *WorkflowResponse {
	steps := make([]*StepResponse, 0, len(m.Steps))
	for _, s := range m.Steps {
		steps = append(steps, &StepResponse{
			ID:                    s.ID,
			Name:                  s.Name,
			Description:           s.Description,
			StepOrder:             s.StepOrder,
			StepType:              s.StepType,
			RequiredUserID:        s.RequiredUserID,
			RequiredRoleID:        s.RequiredRoleID,
			AllowedRoles:          s.AllowedRoles,
			AnyUserWithPermission: s.AnyUserWithPermission,
			RequiresComment:       s.RequiresComment,
			RequiresSignature:     s.RequiresSignature,
			TimeoutDays:           s.TimeoutDays,
			IsActive:              s.IsActive,
		})
	}
	return &WorkflowResponse{
		ID:                         m.ID,
		Code:                       m.Code,
		Name:                       m.Name,
		Description:                m.Description,
		Type:                       m.Type,
		RequiresSequentialApproval: m.RequiresSequentialApproval,
		AllowsRejection:            m.AllowsRejection,
		AllowsRevisionRequest:      m.AllowsRevisionRequest,
		IsActive:                   m.IsActive,
		Steps:                      steps,
		CreatedBy:                  m.CreatedBy,
		CreatedAt:                  m.CreatedAt,
	}
}

func toWorkflowResponses(items []*model.WorkflowModel) []*WorkflowResponse {
	result := make([]*WorkflowResponse, 0, len(items))
	for _, item := range items {
		result = append(result, toWorkflowResponse(item))
	}
	return result
}
