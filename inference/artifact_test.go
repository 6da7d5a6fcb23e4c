package inference

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	nhttp "github.com/chaos-io/cutout/util/http"
	"github.com/chaos-io/cutout/util/http/mocks"
)

func TestFetcher_LocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u2netp.onnx")
	require.NoError(t, os.WriteFile(path, []byte("onnx"), 0o644))

	data, err := (&Fetcher{Path: path, URL: "http://127.0.0.1:1/unused"}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("onnx"), data)
}

func TestFetcher_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	tests := []struct {
		name    string
		fetcher *Fetcher
	}{
		{"本地文件不存在", &Fetcher{Path: filepath.Join(t.TempDir(), "missing.onnx")}},
		{"未配置模型位置", &Fetcher{}},
		{"HTTP 404", &Fetcher{URL: server.URL + "/u2netp.onnx"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fetcher.Fetch(context.Background())
			assert.ErrorIs(t, err, ErrModelNotFound)
		})
	}
}

func TestFetcher_Unavailable(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	for _, url := range []string{failing.URL, closedURL} {
		_, err := (&Fetcher{URL: url}).Fetch(context.Background())
		assert.ErrorIs(t, err, ErrModelUnavailable, url)
		assert.NotErrorIs(t, err, ErrModelNotFound, url)
	}
}

func TestFetcher_Cache(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "models")
	f := &Fetcher{Name: "u2netp.onnx", URL: server.URL, CacheDir: dir}

	for i := 0; i < 3; i++ {
		data, err := f.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte("model-bytes"), data)
	}
	assert.Equal(t, int32(1), hits.Load())

	cached, err := os.ReadFile(filepath.Join(dir, "u2netp.onnx"))
	require.NoError(t, err)
	assert.Equal(t, []byte("model-bytes"), cached)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFetcher_NoCacheDir(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("m"))
	}))
	defer server.Close()

	f := &Fetcher{URL: server.URL}
	for i := 0; i < 2; i++ {
		_, err := f.Fetch(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcher_MockClient(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockIClient(ctrl)

	const url = "https://example.com/u2netp.onnx"
	client.EXPECT().
		DoHTTPRequest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p *nhttp.RequestParam) error {
			assert.Equal(t, http.MethodGet, p.Method)
			assert.Equal(t, url, p.RequestURI)
			*p.Response.(*[]byte) = []byte("weights")
			return nil
		})

	data, err := (&Fetcher{URL: url, Client: client}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("weights"), data)
}

func TestFetcher_MockClientErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"连接被重置", &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}, ErrModelUnavailable},
		{"下载超时", context.DeadlineExceeded, ErrModelUnavailable},
		{"404", &nhttp.StatusError{StatusCode: http.StatusNotFound}, ErrModelNotFound},
		{"503", &nhttp.StatusError{StatusCode: http.StatusServiceUnavailable}, ErrModelUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			client := mocks.NewMockIClient(ctrl)
			client.EXPECT().DoHTTPRequest(gomock.Any(), gomock.Any()).Return(tt.err)

			_, err := (&Fetcher{URL: "https://example.com/m.onnx", Client: client}).Fetch(context.Background())
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestFetcher_EmptyDownload(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockIClient(ctrl)
	client.EXPECT().DoHTTPRequest(gomock.Any(), gomock.Any()).Return(nil)

	_, err := (&Fetcher{URL: "https://example.com/m.onnx", Client: client}).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrModelNotFound)
}
