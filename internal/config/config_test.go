package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir string, content string) string {
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestLoad_Defaults 测试未提供配置文件时使用默认值
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "claims", cfg.Permissions.Provider)
	assert.Equal(t, 6, cfg.Signature.PINMinLength)
	assert.Equal(t, 500, cfg.Audit.VerifyBatchSize)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, "docflow", cfg.Tracing.ServiceName)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.Equal(t, "logs/docflow.log", cfg.Log.File)
	assert.False(t, config.IsProduction(cfg))

	// 默认角色权限表授予 QA 经理审批权限
	checker := auth.NewClaimsChecker(cfg.Permissions.RolePermissions)
	ok, err := checker.HasPermission(context.Background(), types.Actor{ID: "u", RoleName: "QA_Manager"}, types.PermissionWorkflowApprove)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestLoad_Production 测试生产环境默认值
func TestLoad_Production(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.True(t, config.IsProduction(cfg))
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 200, cfg.Database.MaxOpenConns)
}

// TestLoad_File 测试配置文件与环境变量覆盖
func TestLoad_File(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: 9000
database:
  driver: sqlite
  path: /tmp/docflow-test.db
signature:
  pin_min_length: 8
  encryption_key: 0123456789abcdef0123456789abcdef
notify:
  role_members:
    qa_manager: [user-qa, user-qa-2]
`)
	t.Setenv("APP_SERVER_PORT", "9090")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/docflow-test.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Signature.PINMinLength)
	assert.Len(t, cfg.Signature.EncryptionKey, 32)
	assert.Equal(t, []string{"user-qa", "user-qa-2"}, cfg.Notify.RoleMembers["qa_manager"])
}

// TestLoad_MissingFile 测试指定的配置文件不存在
func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestValidate 测试配置校验
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr bool
	}{
		{"默认配置", func(cfg *config.Config) {}, false},
		{"不支持的数据库", func(cfg *config.Config) { cfg.Database.Driver = "mysql" }, true},
		{"不支持的权限提供方", func(cfg *config.Config) { cfg.Permissions.Provider = "ldap" }, true},
		{"加密密钥过短", func(cfg *config.Config) { cfg.Signature.EncryptionKey = "short" }, true},
		{"PIN 最小长度过小", func(cfg *config.Config) { cfg.Signature.PINMinLength = 3 }, true},
		{"OpenFGA", func(cfg *config.Config) { cfg.Permissions.Provider = "openfga" }, false},
		{"采样率越界", func(cfg *config.Config) { cfg.Tracing.SampleRatio = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestLoad_InvalidFile 测试非法配置被拒绝
func TestLoad_InvalidFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "signature:\n  pin_min_length: 2\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

// TestConfigWatcher 测试配置文件变更后通知回调
func TestConfigWatcher(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n  port: 9000\n")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	watcher := config.NewConfigWatcher(cfg, path)
	var port int64
	watcher.OnConfigChange(func(c *config.Config) {
		atomic.StoreInt64(&port, int64(c.Server.Port))
	})
	require.NoError(t, watcher.Start())
	t.Cleanup(watcher.Stop)
	assert.Equal(t, 9000, watcher.GetConfig().Server.Port)

	writeConfig(t, filepath.Dir(path), "server:\n  port: 9100\n")

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&port) == 9100
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 9100, watcher.GetConfig().Server.Port)
}
