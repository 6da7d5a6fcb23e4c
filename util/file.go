package util

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"slices"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// DefaultMaxImageSize 默认上传大小上限
const DefaultMaxImageSize = 10 << 20

// DefaultImageTypes 默认允许的图片类型
var DefaultImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

var (
	ErrImageTooLarge    = errors.New("image too large")
	ErrUnsupportedImage = errors.New("unsupported image type")
)

// DetectImageType 按内容嗅探 MIME 类型
func DetectImageType(data []byte) string {
	return mimetype.Detect(data).String()
}

// ValidateImage 检查大小和类型，maxSize <= 0 或 allowed 为空时使用默认值
func ValidateImage(data []byte, maxSize int64, allowed []string) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxImageSize
	}
	if len(allowed) == 0 {
		allowed = DefaultImageTypes
	}

	if int64(len(data)) > maxSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, len(data), maxSize)
	}
	mime := mimetype.Detect(data)
	if !slices.ContainsFunc(allowed, mime.Is) {
		return fmt.Errorf("%w: %s", ErrUnsupportedImage, mime.String())
	}
	return nil
}

// DecodeImage 解码图片并按 EXIF 方向摆正
func DecodeImage(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

// OpenImage 打开本地图片
func OpenImage(path string) (image.Image, error) {
	return imaging.Open(path, imaging.AutoOrientation(true))
}

// EncodePNG 编码为 PNG，保留 alpha
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile 写文件，目标已存在时覆盖
func WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
