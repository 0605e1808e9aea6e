package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mautops/docflow-gin/internal/signature"
)

// SignatureController 电子签名控制器
type SignatureController struct {
	signatures signature.Service
}

// NewSignatureController 创建电子签名控制器
func NewSignatureController(signatures signature.Service) *SignatureController {
	return &SignatureController{
		signatures: signatures,
	}
}

// SignVersionRequest 文档版本签名请求
type SignVersionRequest struct {
	VersionID  string                 `json:"version_id" binding:"required"`
	Meaning    string                 `json:"meaning" binding:"required"`
	PIN        string                 `json:"pin" binding:"required"`
	Reason     string                 `json:"reason"`
	Comment    string                 `json:"comment"`
	DeviceInfo map[string]interface{} `json:"device_info"`
}

// PINRequest 设置签名 PIN 请求
type PINRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// ChangePINRequest 修改签名 PIN 请求
type ChangePINRequest struct {
	CurrentPIN string `json:"current_pin" binding:"required"`
	NewPIN     string `json:"new_pin" binding:"required"`
}

// CapabilityRequest 签名资格请求
type CapabilityRequest struct {
	CanSign bool `json:"can_sign"`
}

// Sign 签署文档版本
func (c *SignatureController) Sign(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	var req SignVersionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	record, err := c.signatures.Create(ctx.Request.Context(), actx, signature.CreateRequest{
		Target:     signature.DocumentVersionTarget{VersionID: req.VersionID},
		Meaning:    req.Meaning,
		PIN:        req.PIN,
		Reason:     req.Reason,
		Comment:    req.Comment,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, toSignatureResponse(record))
}

// Get 获取签名
func (c *SignatureController) Get(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	record, err := c.signatures.Get(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toSignatureResponse(record))
}

// Verify 校验签名
func (c *SignatureController) Verify(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	report, err := c.signatures.Verify(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, report)
}

// Revoke 撤销签名
func (c *SignatureController) Revoke(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	var req ReasonRequest
	if !bindOptionalJSON(ctx, &req) {
		return
	}

	record, err := c.signatures.Revoke(ctx.Request.Context(), actx, id, req.Reason)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toSignatureResponse(record))
}

// ForDocument 文档的全部签名
func (c *SignatureController) ForDocument(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	records, err := c.signatures.ForDocument(ctx.Request.Context(), id)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toSignatureResponses(records))
}

// ForVersion 直接签署在文档版本上的签名
func (c *SignatureController) ForVersion(ctx *gin.Context) {
	id, ok := pathID(ctx, "id")
	if !ok {
		return
	}

	records, err := c.signatures.ForTarget(ctx.Request.Context(), signature.DocumentVersionTarget{VersionID: id})
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toSignatureResponses(records))
}

// Mine 当前用户的签名
func (c *SignatureController) Mine(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	records, err := c.signatures.ForSigner(ctx.Request.Context(), actx.Actor.ID)
	if err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, toSignatureResponses(records))
}

// SetupPIN 首次设置签名 PIN
func (c *SignatureController) SetupPIN(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	var req PINRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if err := c.signatures.SetupPIN(ctx.Request.Context(), actx, req.PIN); err != nil {
		HandleError(ctx, err)
		return
	}

	Created(ctx, nil)
}

// ChangePIN 修改签名 PIN
func (c *SignatureController) ChangePIN(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}

	var req ChangePINRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if err := c.signatures.ChangePIN(ctx.Request.Context(), actx, req.CurrentPIN, req.NewPIN); err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, nil)
}

// SetCapability 授予或收回用户的签名资格
func (c *SignatureController) SetCapability(ctx *gin.Context) {
	actx, ok := actionContext(ctx)
	if !ok {
		return
	}
	userID, ok := pathID(ctx, "user_id")
	if !ok {
		return
	}

	var req CapabilityRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		Error(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	if err := c.signatures.SetSigningCapability(ctx.Request.Context(), actx, userID, req.CanSign); err != nil {
		HandleError(ctx, err)
		return
	}

	Success(ctx, gin.H{"user_id": userID, "can_sign": req.CanSign})
}
