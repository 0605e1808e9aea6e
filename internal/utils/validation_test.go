package utils_test

import (
	"strings"
	"testing"

	"github.com/mautops/docflow-gin/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidateID 测试资源 ID 校验
func TestValidateID(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		expected error
	}{
		{"UUID", "3f0c2d0e-8d1b-4c44-9a8e-2f7f3c1d9b10", nil},
		{"下划线", "doc_001", nil},
		{"空", "", utils.ErrEmptyID},
		{"过长", strings.Repeat("a", 65), utils.ErrIDTooLong},
		{"路径穿越", "../etc", utils.ErrInvalidIDFormat},
		{"空格", "doc 001", utils.ErrInvalidIDFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := utils.ValidateID(tt.id)
			if tt.expected == nil {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.expected, err)
			}
		})
	}
}

// TestValidateComment 测试意见文本只去除首尾空白
func TestValidateComment(t *testing.T) {
	comment, err := utils.ValidateComment("  Reviewed <section 4> & approved \n", 100)
	require.NoError(t, err)
	assert.Equal(t, "Reviewed <section 4> & approved", comment)

	comment, err = utils.ValidateComment("   ", 100)
	require.NoError(t, err)
	assert.Empty(t, comment)

	_, err = utils.ValidateComment(strings.Repeat("x", 11), 10)
	assert.Equal(t, utils.ErrStringTooLong, err)

	comment, err = utils.ValidateComment(strings.Repeat("x", 11), 0)
	require.NoError(t, err)
	assert.Len(t, comment, 11)
}
