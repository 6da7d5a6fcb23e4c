// Package rembg 把编码、推理、细化、合成串成一次完整的抠图
package rembg

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/inference"
	"github.com/chaos-io/cutout/matte"
	"github.com/chaos-io/cutout/util"
)

// Remover 去除背景，返回带 alpha 的图片
type Remover interface {
	Remove(ctx context.Context, img image.Image, progress ProgressFunc) (image.Image, error)
}

// ModelProvider 提供已加载的模型会话，*inference.Model 即是一种实现
type ModelProvider interface {
	Session(ctx context.Context) (inference.Session, error)
}

// Stage 一次处理所处的阶段
type Stage string

const (
	StageIdle         Stage = "idle"
	StageLoadingModel Stage = "loading_model"
	StageEncoding     Stage = "encoding"
	StageInferring    Stage = "inferring"
	StageRefining     Stage = "refining"
	StageCompositing  Stage = "compositing"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

type Pipeline struct {
	model            ModelProvider
	adapter          *inference.Adapter
	bindingNames     []string
	resampler        matte.Resampler
	workers          int
	inferenceTimeout time.Duration
	log              *zap.Logger
}

var _ Remover = (*Pipeline)(nil)

type Option func(*Pipeline)

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithResampler 缩放到模型输入时使用的插值方式
func WithResampler(r matte.Resampler) Option {
	return func(p *Pipeline) {
		p.resampler = r
	}
}

// WithWorkers 细化和合成的并行度，<= 0 使用 GOMAXPROCS
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		p.workers = n
	}
}

// WithInferenceTimeout 单次推理的超时，0 表示不限制
func WithInferenceTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.inferenceTimeout = d
	}
}

// WithBindingNames 覆盖默认的输入绑定候选名
func WithBindingNames(names ...string) Option {
	return func(p *Pipeline) {
		p.bindingNames = names
	}
}

func New(model ModelProvider, opts ...Option) *Pipeline {
	p := &Pipeline{
		model:     model,
		resampler: matte.DefaultResampler,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.adapter = inference.NewAdapter(p.bindingNames, p.log)
	return p
}

// Remove 对 img 抠图，返回与 img 同尺寸的 NRGBA 图片，RGB 不变。
// 失败时返回 *Error。
func (p *Pipeline) Remove(ctx context.Context, img image.Image, progress ProgressFunc) (image.Image, error) {
	r := p.newRun(progress)
	out, err := r.process(ctx, img)
	if err != nil {
		return nil, r.fail(err)
	}
	r.done()
	return out, nil
}

// RemoveBackground 抠图并编码为 PNG
func (p *Pipeline) RemoveBackground(ctx context.Context, img image.Image, progress ProgressFunc) ([]byte, error) {
	r := p.newRun(progress)
	out, err := r.process(ctx, img)
	if err != nil {
		return nil, r.fail(err)
	}

	data, err := util.EncodePNG(out)
	if err != nil {
		return nil, r.fail(newError(KindProcessing, fmt.Errorf("encode png: %w", err)))
	}
	r.done()
	return data, nil
}

type run struct {
	p     *Pipeline
	id    string
	stage Stage
	start time.Time
	sink  progressSink
	log   *zap.Logger
}

func (p *Pipeline) newRun(progress ProgressFunc) *run {
	id := ksuid.New().String()
	return &run{
		p:     p,
		id:    id,
		stage: StageIdle,
		start: time.Now(),
		sink:  progressSink{fn: progress},
		log:   p.log.With(zap.String("run_id", id)),
	}
}

func (r *run) enter(stage Stage) {
	r.log.Debug("stage", zap.String("stage", string(stage)), zap.Duration("elapsed", time.Since(r.start)))
	r.stage = stage
}

func (r *run) process(ctx context.Context, img image.Image) (out *image.NRGBA, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = newError(KindProcessing, fmt.Errorf("panic: %v", rec))
		}
	}()

	r.sink.emit(progressStarted)

	r.enter(StageLoadingModel)
	sess, err := r.p.model.Session(ctx)
	if err != nil {
		return nil, classifyLoad(err)
	}
	r.sink.emit(progressModelReady)

	r.enter(StageEncoding)
	r.sink.emit(progressCanvas)
	resized, err := matte.ResizeForModel(img, r.p.resampler)
	if err != nil {
		return nil, newError(KindProcessing, err)
	}
	r.sink.emit(progressResized)
	tensor := matte.ToTensor(resized)
	r.sink.emit(progressTensor)

	r.enter(StageInferring)
	raw, err := r.infer(ctx, sess, tensor)
	if err != nil {
		return nil, err
	}
	r.sink.emit(progressInferred)

	r.enter(StageRefining)
	refined := matte.Refine(raw, matte.WithWorkers(r.p.workers))
	r.sink.emit(progressRefined)

	r.enter(StageCompositing)
	out, err = matte.Composite(img, refined, matte.WithWorkers(r.p.workers))
	if err != nil {
		return nil, newError(KindProcessing, err)
	}
	return out, nil
}

func (r *run) infer(ctx context.Context, sess inference.Session, t *matte.Tensor) (*matte.Mask, error) {
	if r.p.inferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.p.inferenceTimeout)
		defer cancel()
	}

	shape := make([]int64, len(t.Shape))
	for i, d := range t.Shape {
		shape[i] = int64(d)
	}

	out, err := r.p.adapter.Run(ctx, sess, inference.Tensor{Shape: shape, Data: t.Data})
	if err != nil {
		return nil, classifyInference(err)
	}

	mask, err := matte.MaskFromData(out.Data, matte.ModelSize, matte.ModelSize)
	if err != nil {
		return nil, newError(KindProcessing, fmt.Errorf("output shape %v: %w", out.Shape, err))
	}
	return mask, nil
}

func (r *run) fail(err error) error {
	e, ok := err.(*Error)
	if !ok {
		e = newError(KindProcessing, err)
	}
	if e.Stage == "" {
		e.Stage = r.stage
	}

	r.log.Error("background removal failed",
		zap.String("stage", string(e.Stage)),
		zap.Stringer("kind", e.Kind),
		zap.Duration("elapsed", time.Since(r.start)),
		zap.Error(e.Err))
	r.stage = StageFailed
	return e
}

func (r *run) done() {
	r.sink.emit(progressComposited)
	r.stage = StageDone
	r.log.Info("background removed", zap.Duration("elapsed", time.Since(r.start)))
}
