package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/types"
)

// canonicalJSON 规范化 JSON
// 先经过一次往返，使写入时与从数据库读回时的数值、键序完全一致
func canonicalJSON(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// canonicalMap 空 map 与 nil 视为同一值
func canonicalMap(m map[string]interface{}) string {
	if len(m) == 0 {
		return "{}"
	}
	return canonicalJSON(m)
}

func nonNilMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ComputeEntryHash 计算审计记录哈希
func ComputeEntryHash(e *model.AuditLogModel) string {
	userID := e.UserID
	if userID == "" {
		userID = types.SystemActorID
	}

	// 其余内容字段统一放入信封，任何字段被改动都会使本条哈希失效
	envelope := map[string]interface{}{
		"sequence":          e.Sequence,
		"description":       e.Description,
		"subject_label":     e.SubjectLabel,
		"document_id":       e.DocumentID,
		"changed_fields":    nonNilStrings(e.ChangedFields),
		"metadata":          nonNilMap(e.Metadata),
		"comment":           e.Comment,
		"status":            e.Status,
		"failure_reason":    e.FailureReason,
		"user_name":         e.UserName,
		"user_email":        e.UserEmail,
		"user_role_id":      e.UserRoleID,
		"user_role_name":    e.UserRoleName,
		"ip_address":        e.IPAddress,
		"user_agent":        e.UserAgent,
		"session_id":        e.SessionID,
		"request_id":        e.RequestID,
		"is_gmp_critical":   e.IsGMPCritical,
		"is_security_event": e.IsSecurityEvent,
	}

	parts := []string{
		e.ID,
		userID,
		e.Action,
		e.Category,
		e.SubjectType,
		e.SubjectID,
		types.NormalizeTime(e.OccurredAt).Format(time.RFC3339Nano),
		canonicalMap(e.OldValues),
		canonicalMap(e.NewValues),
		e.PreviousHash,
		canonicalJSON(envelope),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ChangedFields 计算 after 中与 before 不同或 before 中不存在的键
func ChangedFields(before, after map[string]interface{}) []string {
	changed := make([]string, 0, len(after))
	for key, value := range after {
		old, ok := before[key]
		if !ok || canonicalJSON(old) != canonicalJSON(value) {
			changed = append(changed, key)
		}
	}
	sort.Strings(changed)
	return changed
}
