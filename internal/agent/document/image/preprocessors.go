package image

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// 图像预处理接口
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// 灰度处理器
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	return imaging.Grayscale(img), nil
}

// 放大处理器
type UpscaleProcessor struct {
	factor float64
}

func NewUpscaleProcessor(factor float64) *UpscaleProcessor {
	return &UpscaleProcessor{factor: factor}
}

func (p *UpscaleProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	b := img.Bounds()
	w := int(float64(b.Dx()) * p.factor)
	h := int(float64(b.Dy()) * p.factor)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("upscale to %dx%d", w, h)
	}
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

// 对比度处理器
// ratio is the multiplier applied around mid-grey, so 2.0 doubles contrast.
type ContrastProcessor struct {
	ratio float64
}

func NewContrastProcessor(ratio float64) *ContrastProcessor {
	return &ContrastProcessor{ratio: ratio}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	// imaging scales by 1+pct/100.
	return imaging.AdjustContrast(img, (p.ratio-1)*100), nil
}

// 锐化处理器
type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	return imaging.Sharpen(img, p.strength), nil
}

// CropTopProcessor keeps the top ratio of the image height.
type CropTopProcessor struct {
	ratio float64
}

func NewCropTopProcessor(ratio float64) *CropTopProcessor {
	return &CropTopProcessor{ratio: ratio}
}

func (p *CropTopProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	b := img.Bounds()
	h := int(float64(b.Dy()) * p.ratio)
	if h < 1 {
		h = 1
	}
	return imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+h)), nil
}
