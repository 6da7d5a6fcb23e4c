package http

import (
	"context"
	"fmt"
	"time"
)

// IClient 最小 HTTP 客户端接口，便于在测试中替换
//
//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 一次请求的参数。
// Body 可以是 nil、io.Reader、[]byte 或任意可 JSON 序列化的值；
// Response 为 *[]byte 时保存原始响应体，其他非 nil 值按 JSON 反序列化。
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       any
	Response   any

	Timeout time.Duration
}

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP request failed with status %d: %s", e.StatusCode, e.Body)
}
