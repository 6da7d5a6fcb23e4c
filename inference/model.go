package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 模型句柄的加载状态
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Loader 获取并打开模型
type Loader func(ctx context.Context) (Session, error)

// Model 懒加载的模型句柄，并发调用只触发一次加载。
// 加载失败不会被缓存，下一次调用重新加载。
type Model struct {
	load        Loader
	loadTimeout time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	state   State
	session Session
	current *attempt
}

type attempt struct {
	done    chan struct{}
	session Session
	err     error
}

// ModelOption 配置 Model
type ModelOption func(*Model)

// WithLogger 设置日志
func WithLogger(log *zap.Logger) ModelOption {
	return func(m *Model) {
		if log != nil {
			m.log = log
		}
	}
}

// WithLoadTimeout 限制单次加载耗时，0 表示不限制
func WithLoadTimeout(d time.Duration) ModelOption {
	return func(m *Model) {
		m.loadTimeout = d
	}
}

func NewModel(load Loader, opts ...ModelOption) *Model {
	m := &Model{load: load, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State 当前状态
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session 返回已加载的会话，必要时触发加载。
// ctx 只控制本次等待，加载本身不会因某个调用方取消而中断。
func (m *Model) Session(ctx context.Context) (Session, error) {
	m.mu.Lock()
	switch m.state {
	case StateReady:
		s := m.session
		m.mu.Unlock()
		return s, nil
	case StateUnloaded, StateFailed:
		m.state = StateLoading
		m.current = &attempt{done: make(chan struct{})}
		go m.run(context.WithoutCancel(ctx), m.current)
	}
	a := m.current
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.session, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Model) run(ctx context.Context, a *attempt) {
	start := time.Now()
	m.log.Info("loading model")

	if m.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.loadTimeout)
		defer cancel()
	}

	sess, err := m.safeLoad(ctx)

	m.mu.Lock()
	if err != nil {
		m.state = StateFailed
		m.log.Error("model load failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	} else {
		m.state = StateReady
		m.session = sess
		m.log.Info("model ready",
			zap.Duration("elapsed", time.Since(start)),
			zap.Strings("inputs", sess.InputNames()),
			zap.Strings("outputs", sess.OutputNames()))
	}
	a.session, a.err = sess, err
	m.mu.Unlock()
	close(a.done)
}

func (m *Model) safeLoad(ctx context.Context) (sess Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			sess, err = nil, fmt.Errorf("model loader panicked: %v", r)
		}
	}()
	sess, err = m.load(ctx)
	if err == nil && sess == nil {
		err = fmt.Errorf("model loader returned no session")
	}
	return sess, err
}

// Close 释放已加载的会话，之后再调用 Session 会重新加载
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return nil
	}
	s := m.session
	m.session = nil
	m.state = StateUnloaded
	return s.Close()
}
