// Package qr renders pairing challenges as displayable images.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

const dataURIPrefix = "data:image/png;base64,"

// ErrEmptyChallenge is returned when there is nothing to encode.
var ErrEmptyChallenge = errors.New("empty challenge")

// Renderer turns a raw challenge string into a displayable payload.
type Renderer interface {
	Render(challenge string) (string, error)
}

// PNG renders challenges as PNG data URIs.
type PNG struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewPNG returns a renderer producing size x size images with medium
// error correction.
func NewPNG(size int) *PNG {
	if size <= 0 {
		size = 256
	}
	return &PNG{Size: size, Level: qrcode.Medium}
}

// Render encodes challenge as a data:image/png;base64 URI.
func (p *PNG) Render(challenge string) (string, error) {
	if challenge == "" {
		return "", ErrEmptyChallenge
	}
	png, err := qrcode.Encode(challenge, p.Level, p.Size)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// RenderFunc adapts a function to Renderer.
type RenderFunc func(challenge string) (string, error)

func (f RenderFunc) Render(challenge string) (string, error) { return f(challenge) }
