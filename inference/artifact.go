package inference

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	nhttp "github.com/chaos-io/cutout/util/http"
)

// Fetcher 按 本地路径 > 缓存 > URL 的顺序获取模型文件
type Fetcher struct {
	// Name 缓存文件名，例如 u2netp.onnx
	Name string
	// Path 本地模型文件，设置后不再访问网络
	Path string
	URL  string
	// CacheDir 下载结果的缓存目录，为空则不缓存
	CacheDir string

	Client nhttp.IClient
	Log    *zap.Logger
}

// Fetch 返回模型文件内容。
// 文件缺失或 404 包装 ErrModelNotFound，网络故障包装 ErrModelUnavailable。
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	log := f.Log
	if log == nil {
		log = zap.NewNop()
	}

	if f.Path != "" {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %w", ErrModelNotFound, err)
			}
			return nil, fmt.Errorf("read model: %w", err)
		}
		log.Debug("model read from disk", zap.String("path", f.Path), zap.Int("bytes", len(data)))
		return data, nil
	}

	if f.URL == "" {
		return nil, fmt.Errorf("%w: neither model path nor url configured", ErrModelNotFound)
	}

	cached := f.cachePath()
	if cached != "" {
		if data, err := os.ReadFile(cached); err == nil && len(data) > 0 {
			log.Debug("model read from cache", zap.String("path", cached), zap.Int("bytes", len(data)))
			return data, nil
		}
	}

	data, err := f.download(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("model downloaded", zap.String("url", f.URL), zap.Int("bytes", len(data)))

	if cached != "" {
		if err := writeAtomic(cached, data); err != nil {
			log.Warn("failed to cache model", zap.String("path", cached), zap.Error(err))
		}
	}
	return data, nil
}

func (f *Fetcher) cachePath() string {
	if f.CacheDir == "" {
		return ""
	}
	name := f.Name
	if name == "" {
		name = filepath.Base(f.URL)
	}
	return filepath.Join(f.CacheDir, name)
}

func (f *Fetcher) download(ctx context.Context) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = nhttp.NewHTTPClient()
	}

	var data []byte
	err := client.DoHTTPRequest(ctx, &nhttp.RequestParam{
		Method:     http.MethodGet,
		RequestURI: f.URL,
		Response:   &data,
	})
	if err != nil {
		return nil, classifyDownload(err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty response from %s", ErrModelNotFound, f.URL)
	}
	return data, nil
}

func classifyDownload(err error) error {
	var statusErr *nhttp.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", ErrModelNotFound, err)
		}
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return fmt.Errorf("download model: %w", err)
}

// writeAtomic 先写临时文件再重命名，避免留下半个模型文件
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
