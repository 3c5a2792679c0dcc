package qrcode

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 256
	MinSize     = 64
	MaxSize     = 1024
)

// ClampSize keeps a requested pixel size within bounds; zero means default.
func ClampSize(size int) int {
	switch {
	case size == 0:
		return DefaultSize
	case size < MinSize:
		return MinSize
	case size > MaxSize:
		return MaxSize
	default:
		return size
	}
}

// PNG renders url as a square PNG of the given pixel size.
func PNG(url string, size int) ([]byte, error) {
	png, err := qrcode.Encode(url, qrcode.Medium, ClampSize(size))
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	return png, nil
}

func DataURI(url string, size int) (string, error) {
	png, err := PNG(url, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// ASCII renders url for a terminal.
func ASCII(url string) (string, error) {
	qr, err := qrcode.New(url, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("failed to generate QR code: %w", err)
	}

	var sb strings.Builder
	for _, row := range qr.Bitmap() {
		for _, dark := range row {
			if dark {
				sb.WriteString("██")
			} else {
				sb.WriteString("  ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
