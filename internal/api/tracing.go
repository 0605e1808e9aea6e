package api

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/types"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

var tracerProvider *tracesdk.TracerProvider

// 健康检查与指标抓取不产生 span
var untracedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// InitTracing 初始化 OpenTelemetry 追踪，导出到 Jaeger
func InitTracing(cfg config.TracingConfig, env string) error {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerEndpoint)))
	if err != nil {
		return fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName(cfg)),
			semconv.DeploymentEnvironmentKey.String(env),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create tracing resource: %w", err)
	}

	tracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRatio))),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return nil
}

func serviceName(cfg config.TracingConfig) string {
	if cfg.ServiceName == "" {
		return "docflow"
	}
	return cfg.ServiceName
}

// TracingMiddleware 追踪中间件
func TracingMiddleware(cfg config.TracingConfig) gin.HandlerFunc {
	traced := otelgin.Middleware(serviceName(cfg))
	return func(c *gin.Context) {
		if untracedPaths[c.Request.URL.Path] {
			c.Next()
			return
		}
		traced(c)
	}
}

// annotateSpan 把操作人和请求 ID 写入当前请求的 span
// 审计条目与追踪数据通过 request_id 关联
func annotateSpan(ctx context.Context, actx types.ActionContext) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("docflow.actor_id", actx.Actor.AuditID()),
		attribute.String("docflow.request_id", actx.RequestID),
	)
	if actx.Actor.RoleID != "" {
		span.SetAttributes(attribute.String("docflow.actor_role", actx.Actor.RoleID))
	}
}

// ShutdownTracing 关闭追踪，刷新未导出的 span
func ShutdownTracing(ctx context.Context) error {
	if tracerProvider != nil {
		return tracerProvider.Shutdown(ctx)
	}
	return nil
}
