package types

import (
	"time"
)

// SystemActorID 系统操作人标识
const SystemActorID = "system"

// Actor 操作人快照
// 审计与签名记录中冻结的身份信息均来自此结构
type Actor struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	RoleID     string   `json:"role_id,omitempty"`
	RoleName   string   `json:"role_name,omitempty"`
	Roles      []string `json:"roles,omitempty"`
	Title      string   `json:"title,omitempty"`
	Department string   `json:"department,omitempty"`
}

// IsSystem 是否为系统操作
func (a Actor) IsSystem() bool {
	return a.ID == "" || a.ID == SystemActorID
}

// AuditID 审计链中使用的操作人标识
func (a Actor) AuditID() string {
	if a.IsSystem() {
		return SystemActorID
	}
	return a.ID
}

// ActionContext 操作上下文
type ActionContext struct {
	Actor      Actor
	OccurredAt time.Time
	ClientIP   string
	UserAgent  string
	SessionID  string
	RequestID  string
}

// System 创建系统操作上下文
func System(at time.Time) ActionContext {
	return ActionContext{
		Actor:      Actor{ID: SystemActorID, Name: "System"},
		OccurredAt: at,
	}
}

// At 返回操作时间（UTC，微秒精度）
// 未指定 OccurredAt 时使用 clock 当前时间
func (a ActionContext) At(clock Clock) time.Time {
	t := a.OccurredAt
	if t.IsZero() {
		if clock == nil {
			clock = SystemClock{}
		}
		t = clock.Now()
	}
	return NormalizeTime(t)
}

// NormalizeTime 统一时间精度
// 数据库往返后时间必须与计算哈希时完全一致
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Clock 时钟
type Clock interface {
	Now() time.Time
}

// SystemClock 系统时钟
type SystemClock struct{}

// Now 当前时间
func (SystemClock) Now() time.Time {
	return time.Now()
}

// FixedClock 固定时钟
type FixedClock struct {
	T time.Time
}

// Now 当前时间
func (c FixedClock) Now() time.Time {
	return c.T
}
