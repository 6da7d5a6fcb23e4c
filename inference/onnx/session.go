// Package onnx 用 ONNX Runtime 实现 inference.Session
package onnx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/cutout/inference"
)

// Backend 执行后端
type Backend string

const (
	CPU    Backend = "cpu"
	CUDA   Backend = "cuda"
	CoreML Backend = "coreml"
)

// ParseBackend 解析后端名，空串和 wasm 都按 cpu 处理
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cpu", "wasm":
		return CPU, nil
	case "cuda", "gpu":
		return CUDA, nil
	case "coreml":
		return CoreML, nil
	default:
		return "", fmt.Errorf("unknown inference backend %q", name)
	}
}

type Options struct {
	Backend Backend
	// Threads 单个算子内的线程数，0 使用 runtime 默认值
	Threads int
	// LibraryPath onnxruntime 动态库路径，为空时使用系统默认
	LibraryPath string
}

var initMu sync.Mutex

// Init 初始化 onnxruntime 环境，重复调用无副作用
func Init(libraryPath string) error {
	initMu.Lock()
	defer initMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnxruntime: %w", err)
	}
	return nil
}

// Session 基于 DynamicAdvancedSession，输入输出张量每次 Run 时创建
type Session struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string

	// 同一个 ort 会话不并发 Run
	mu sync.Mutex
}

var _ inference.Session = (*Session)(nil)

// Open 从模型字节创建会话
func Open(model []byte, opts Options) (*Session, error) {
	if len(model) == 0 {
		return nil, errors.New("empty model data")
	}
	if err := Init(opts.LibraryPath); err != nil {
		return nil, err
	}

	inInfo, outInfo, err := ort.GetInputOutputInfoWithONNXData(model)
	if err != nil {
		return nil, fmt.Errorf("io info: %w", err)
	}
	inputs := ioNames(inInfo)
	outputs := ioNames(outInfo)

	so, err := sessionOptions(opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = so.Destroy()
	}()

	sess, err := ort.NewDynamicAdvancedSessionWithONNXData(model, inputs, outputs, so)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{session: sess, inputs: inputs, outputs: outputs}, nil
}

func ioNames(info []ort.InputOutputInfo) []string {
	names := make([]string, len(info))
	for i, in := range info {
		names[i] = in.Name
	}
	return names
}

func sessionOptions(opts Options) (*ort.SessionOptions, error) {
	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}

	if opts.Threads > 0 {
		if err := so.SetIntraOpNumThreads(opts.Threads); err != nil {
			_ = so.Destroy()
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	switch opts.Backend {
	case "", CPU:
	case CUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			_ = so.Destroy()
			return nil, fmt.Errorf("cuda options: %w", err)
		}
		defer func() {
			_ = cuda.Destroy()
		}()
		if err := so.AppendExecutionProviderCUDA(cuda); err != nil {
			_ = so.Destroy()
			return nil, fmt.Errorf("enable cuda: %w", err)
		}
	case CoreML:
		if err := so.AppendExecutionProviderCoreML(0); err != nil {
			_ = so.Destroy()
			return nil, fmt.Errorf("enable coreml: %w", err)
		}
	default:
		_ = so.Destroy()
		return nil, fmt.Errorf("unknown inference backend %q", opts.Backend)
	}
	return so, nil
}

func (s *Session) InputNames() []string  { return slices.Clone(s.inputs) }
func (s *Session) OutputNames() []string { return slices.Clone(s.outputs) }

// Run 执行推理。ort 本身不可中断，ctx 结束时立即返回，后台的推理跑完后自行释放张量。
func (s *Session) Run(ctx context.Context, feeds map[string]inference.Tensor) ([]inference.NamedTensor, error) {
	if err := s.checkFeeds(feeds); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		out []inference.NamedTensor
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := s.run(feeds)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) checkFeeds(feeds map[string]inference.Tensor) error {
	for name := range feeds {
		if !slices.Contains(s.inputs, name) {
			return fmt.Errorf("%w: %q (model inputs %v)", inference.ErrBindingNotFound, name, s.inputs)
		}
	}
	for _, name := range s.inputs {
		if _, ok := feeds[name]; !ok {
			return fmt.Errorf("missing feed for model input %q", name)
		}
	}
	return nil
}

func (s *Session) run(feeds map[string]inference.Tensor) ([]inference.NamedTensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, errors.New("session closed")
	}

	inputs := make([]ort.Value, 0, len(s.inputs))
	defer func() {
		for _, v := range inputs {
			_ = v.Destroy()
		}
	}()
	for _, name := range s.inputs {
		t := feeds[name]
		v, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs = append(inputs, v)
	}

	outputs := make([]ort.Value, len(s.outputs))
	if err := s.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				_ = o.Destroy()
			}
		}
	}()

	result := make([]inference.NamedTensor, 0, len(outputs))
	for i, o := range outputs {
		if o == nil {
			continue
		}
		t, ok := o.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("output %q: unexpected type %T", s.outputs[i], o)
		}
		result = append(result, inference.NamedTensor{
			Name: s.outputs[i],
			Tensor: inference.Tensor{
				Shape: slices.Clone([]int64(t.GetShape())),
				Data:  slices.Clone(t.GetData()),
			},
		})
	}
	return result, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

// NewLoader 返回 inference.Loader：先获取模型文件，再创建会话
func NewLoader(f *inference.Fetcher, opts Options) inference.Loader {
	return func(ctx context.Context) (inference.Session, error) {
		data, err := f.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		sess, err := Open(data, opts)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}
