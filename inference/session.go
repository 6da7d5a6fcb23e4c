// Package inference 是推理引擎的边界：引擎本身是黑盒，这里只关心
// 输入绑定名、输出取值以及模型的懒加载。
package inference

import (
	"context"
	"errors"
)

var (
	// ErrBindingNotFound 引擎不认识给定的输入绑定名，适配器会尝试下一个候选
	ErrBindingNotFound = errors.New("input binding not found")
	// ErrInputBinding 所有候选名和模型声明的输入名都不可用
	ErrInputBinding = errors.New("could not determine model input")
	// ErrNoOutputs 推理结果里没有任何输出
	ErrNoOutputs = errors.New("no model outputs found")

	// ErrModelNotFound 模型文件不存在（本地缺失或 HTTP 404）
	ErrModelNotFound = errors.New("model not found")
	// ErrModelUnavailable 网络原因无法获取模型
	ErrModelUnavailable = errors.New("model unavailable")
)

// Tensor 引擎边界上的 float32 张量
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NamedTensor 带输出名的张量
type NamedTensor struct {
	Name   string
	Tensor Tensor
}

// Session 已加载的模型
type Session interface {
	// InputNames 模型声明的输入名，按声明顺序
	InputNames() []string
	// OutputNames 模型声明的输出名，按声明顺序
	OutputNames() []string
	// Run 以 {绑定名: 张量} 执行一次推理，输出按声明顺序返回
	Run(ctx context.Context, feeds map[string]Tensor) ([]NamedTensor, error)
	Close() error
}
