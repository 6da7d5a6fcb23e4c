package rembg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"

	"github.com/chaos-io/cutout/inference"
)

// Kind 面向用户的错误分类
type Kind int

const (
	KindProcessing Kind = iota
	KindModelNotFound
	KindModelNetwork
	KindModelInit
	KindInputBinding
	KindNoOutput
)

func (k Kind) String() string {
	switch k {
	case KindProcessing:
		return "ProcessingError"
	case KindModelNotFound:
		return "ModelNotFound"
	case KindModelNetwork:
		return "ModelNetworkError"
	case KindModelInit:
		return "ModelInitError"
	case KindInputBinding:
		return "InputBindingError"
	case KindNoOutput:
		return "NoOutputError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

const (
	msgModelNotFound = "AI model not found. Download u2netp.onnx and place it at the configured model path (model.path), or set model.url."
	msgModelNetwork  = "Network error loading AI model. Please check your internet connection and try again."
	msgModelInit     = "Failed to initialize AI model. This platform may not support the inference runtime."
	msgInputBinding  = "Could not determine model input name. Please check the model file."
	msgNoOutput      = "No model outputs found."
	msgProcessing    = "Failed to remove background. Please try again."
)

// Error 一次处理失败，Message 可以直接展示给用户，Err 保留原始错误
type Error struct {
	Kind    Kind
	Stage   Stage
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Message: message(kind), Err: err}
}

func message(kind Kind) string {
	switch kind {
	case KindModelNotFound:
		return msgModelNotFound
	case KindModelNetwork:
		return msgModelNetwork
	case KindModelInit:
		return msgModelInit
	case KindInputBinding:
		return msgInputBinding
	case KindNoOutput:
		return msgNoOutput
	default:
		return msgProcessing
	}
}

// classifyLoad 模型加载失败的分类：先看哨兵错误，再按错误文本兜底
func classifyLoad(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var netErr net.Error
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, inference.ErrModelNotFound), errors.Is(err, fs.ErrNotExist):
		return newError(KindModelNotFound, err)
	case errors.Is(err, inference.ErrModelUnavailable), errors.As(err, &netErr):
		return newError(KindModelNetwork, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(KindProcessing, err)
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		return newError(KindModelNotFound, err)
	case strings.Contains(msg, "network"), strings.Contains(msg, "fetch"):
		return newError(KindModelNetwork, err)
	default:
		return newError(KindModelInit, err)
	}
}

// classifyInference 推理阶段的分类
func classifyInference(err error) *Error {
	switch {
	case errors.Is(err, inference.ErrInputBinding):
		return newError(KindInputBinding, err)
	case errors.Is(err, inference.ErrNoOutputs):
		return newError(KindNoOutput, err)
	default:
		return newError(KindProcessing, err)
	}
}
