package rembg

// ProgressFunc 接收 0~100 的进度
type ProgressFunc func(percent int)

// 各阶段完成时上报的进度
const (
	progressStarted    = 10
	progressModelReady = 25
	progressCanvas     = 35
	progressResized    = 45
	progressTensor     = 60
	progressInferred   = 80
	progressRefined    = 90
	progressComposited = 100
)

// progressSink 保证上报的值在 [0,100] 内且单调不减，fn 可以为 nil
type progressSink struct {
	fn      ProgressFunc
	last    int
	emitted bool
}

func (s *progressSink) emit(percent int) {
	if s.fn == nil {
		return
	}
	percent = min(max(percent, 0), 100)
	if s.emitted && percent <= s.last {
		return
	}
	s.last, s.emitted = percent, true
	s.fn(percent)
}
