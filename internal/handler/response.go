package handler

import "time"

// ErrorResponse 标准错误响应结构
type ErrorResponse struct {
	Code      string `json:"code" example:"INVALID_REQUEST"`
	Message   string `json:"message" example:"请求参数格式错误"`
	Details   string `json:"details,omitempty" example:"validation failed"`
	Timestamp string `json:"timestamp" example:"2024-01-08T12:00:00Z"`
	RequestID string `json:"request_id,omitempty" example:"req_123456"`
}

// NewErrorResponse 创建标准错误响应
func NewErrorResponse(code, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// SuccessResponse 标准成功响应结构
type SuccessResponse struct {
	Code      string `json:"code" example:"SUCCESS"`
	Message   string `json:"message" example:"操作成功"`
	Timestamp string `json:"timestamp" example:"2024-01-08T12:00:00Z"`
}

// NewSuccessResponse 创建标准成功响应
func NewSuccessResponse(code, message string) *SuccessResponse {
	return &SuccessResponse{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}
