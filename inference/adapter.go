package inference

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultBindingNames U²-Net 导出模型常见的输入名，按顺序尝试
var DefaultBindingNames = []string{"input.1", "input", "data"}

// Adapter 依次尝试候选绑定名，全部失败后退回模型声明的第一个输入名
type Adapter struct {
	candidates []string
	log        *zap.Logger
}

// NewAdapter candidates 为空时使用 DefaultBindingNames
func NewAdapter(candidates []string, log *zap.Logger) *Adapter {
	if len(candidates) == 0 {
		candidates = DefaultBindingNames
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{candidates: candidates, log: log}
}

// Run 用默认候选名执行一次推理
func Run(ctx context.Context, sess Session, t Tensor) (Tensor, error) {
	return NewAdapter(nil, nil).Run(ctx, sess, t)
}

// Run 绑定输入并执行推理，返回第一个声明输出对应的张量
func (a *Adapter) Run(ctx context.Context, sess Session, t Tensor) (Tensor, error) {
	outputs, err := a.bind(ctx, sess, t)
	if err != nil {
		return Tensor{}, err
	}
	if len(outputs) == 0 {
		return Tensor{}, ErrNoOutputs
	}

	if names := sess.OutputNames(); len(names) > 0 {
		for _, o := range outputs {
			if o.Name == names[0] {
				return o.Tensor, nil
			}
		}
	}
	return outputs[0].Tensor, nil
}

func (a *Adapter) bind(ctx context.Context, sess Session, t Tensor) ([]NamedTensor, error) {
	for _, name := range a.candidates {
		out, err := sess.Run(ctx, map[string]Tensor{name: t})
		if err == nil {
			a.log.Debug("input bound", zap.String("binding", name))
			return out, nil
		}
		if !errors.Is(err, ErrBindingNotFound) {
			return nil, fmt.Errorf("run with input %q: %w", name, err)
		}
		a.log.Debug("input binding rejected", zap.String("binding", name), zap.Error(err))
	}

	declared := sess.InputNames()
	a.log.Debug("falling back to declared inputs", zap.Strings("inputs", declared))
	if len(declared) == 0 {
		return nil, ErrInputBinding
	}

	out, err := sess.Run(ctx, map[string]Tensor{declared[0]: t})
	if err != nil {
		if errors.Is(err, ErrBindingNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrInputBinding, err)
		}
		return nil, fmt.Errorf("run with input %q: %w", declared[0], err)
	}
	return out, nil
}
