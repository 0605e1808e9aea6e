package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var (
	// API 请求计数器
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	// API 请求响应时间
	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 工作流动作数
	workflowActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_actions_total",
			Help: "Total number of workflow step actions",
		},
		[]string{"action"}, // submitted, approved, rejected, ...
	)

	// 实例状态迁移
	workflowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of workflow instance state transitions",
		},
		[]string{"from", "to"},
	)

	// 电子签名
	signaturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "electronic_signatures_total",
			Help: "Total number of electronic signature operations",
		},
		[]string{"operation", "meaning"},
	)

	signatureVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "electronic_signature_verifications_total",
			Help: "Total number of electronic signature verifications",
		},
		[]string{"valid"},
	)

	// 审计链
	auditAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_appends_total",
			Help: "Total number of audit chain appends",
		},
		[]string{"category"},
	)

	auditChainFindings = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_chain_findings",
			Help: "Number of integrity findings from the last chain verification",
		},
	)

	// 数据库连接数
	databaseConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_active",
			Help: "Number of active database connections",
		},
	)

	databaseConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	databaseConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "database_connections_max",
			Help: "Maximum number of database connections",
		},
	)

	// 通知推送连接数
	notificationStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_stream_connections",
			Help: "Number of open notification websocket connections",
		},
	)

	// 实例状态分布
	instancesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workflow_instances_by_status",
			Help: "Number of workflow instances by status",
		},
		[]string{"status"},
	)
)

var (
	once sync.Once
)

func init() {
	prometheus.MustRegister(apiRequestsTotal)
	prometheus.MustRegister(apiRequestDuration)
	prometheus.MustRegister(workflowActionsTotal)
	prometheus.MustRegister(workflowTransitionsTotal)
	prometheus.MustRegister(signaturesTotal)
	prometheus.MustRegister(signatureVerificationsTotal)
	prometheus.MustRegister(auditAppendsTotal)
	prometheus.MustRegister(auditChainFindings)
	prometheus.MustRegister(databaseConnectionsActive)
	prometheus.MustRegister(databaseConnectionsIdle)
	prometheus.MustRegister(databaseConnectionsMax)
	prometheus.MustRegister(instancesByStatus)
	prometheus.MustRegister(notificationStreams)

	once.Do(func() {
		// 已注册时忽略错误
		_ = prometheus.Register(prometheus.NewGoCollector())
		_ = prometheus.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	})
}

// Handler 返回 Prometheus 指标处理器
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest 记录 API 请求
func RecordAPIRequest(method, path string, status int, duration float64) {
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = fmt.Sprintf("%d", status)
	}
	apiRequestsTotal.WithLabelValues(method, path, statusText).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// RecordWorkflowAction 记录工作流步骤动作
func RecordWorkflowAction(action string) {
	workflowActionsTotal.WithLabelValues(action).Inc()
}

// RecordTransition 记录实例状态迁移
func RecordTransition(from, to string) {
	workflowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSignature 记录签名操作
func RecordSignature(operation, meaning string) {
	signaturesTotal.WithLabelValues(operation, meaning).Inc()
}

// RecordSignatureVerification 记录签名验证结果
func RecordSignatureVerification(valid bool) {
	signatureVerificationsTotal.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

// RecordAuditAppend 记录审计追加
func RecordAuditAppend(category string) {
	auditAppendsTotal.WithLabelValues(category).Inc()
}

// SetChainFindings 记录最近一次审计链校验的问题数
func SetChainFindings(n int) {
	auditChainFindings.Set(float64(n))
}

// UpdateDatabaseConnections 更新数据库连接数指标
func UpdateDatabaseConnections(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}

	stats := sqlDB.Stats()
	databaseConnectionsActive.Set(float64(stats.OpenConnections - stats.Idle))
	databaseConnectionsIdle.Set(float64(stats.Idle))
	databaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	return nil
}

// UpdateInstancesByStatus 更新实例状态分布指标
func UpdateInstancesByStatus(counts map[string]int64) {
	for status, count := range counts {
		instancesByStatus.WithLabelValues(status).Set(float64(count))
	}
}

// SetNotificationStreams 设置通知推送连接数
func SetNotificationStreams(n int) {
	notificationStreams.Set(float64(n))
}
