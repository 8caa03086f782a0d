package drapto

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	draptolib "github.com/five82/drapto"
)

var detectCrop = draptolib.DetectCrop

// CropResult captures the outcome of a crop detection pass.
type CropResult struct {
	Required       bool
	Filter         string
	Message        string
	MultipleRatios bool
	Width          uint32
	Height         uint32
}

// CropDetector defines black-bar detection behaviour.
type CropDetector interface {
	DetectCrop(ctx context.Context, inputPath string) (CropResult, error)
}

// Library implements CropDetector using the Drapto Go library directly.
type Library struct{}

// NewLibrary constructs a Library detector.
func NewLibrary() *Library {
	return &Library{}
}

// DetectCrop samples the input and reports the crop filter Drapto recommends.
func (l *Library) DetectCrop(ctx context.Context, inputPath string) (CropResult, error) {
	if strings.TrimSpace(inputPath) == "" {
		return CropResult{}, errors.New("input path required")
	}
	result, err := detectCrop(ctx, inputPath)
	if err != nil {
		return CropResult{}, fmt.Errorf("drapto crop detection: %w", err)
	}
	if result == nil {
		return CropResult{}, errors.New("drapto crop detection returned no result")
	}
	out := CropResult{
		Required:       result.Required,
		Filter:         strings.TrimSpace(result.CropFilter),
		Message:        result.Message,
		MultipleRatios: result.MultipleRatios,
		Width:          uint32(result.VideoWidth),
		Height:         uint32(result.VideoHeight),
	}
	if out.Required {
		if _, _, ok := ParseCropFilter(out.Filter); !ok {
			return CropResult{}, fmt.Errorf("drapto returned malformed crop filter %q", out.Filter)
		}
	}
	return out, nil
}

var _ CropDetector = (*Library)(nil)

// ParseCropFilter extracts the output width and height from a crop=W:H:X:Y filter.
func ParseCropFilter(filter string) (uint64, uint64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(filter), "crop=")
	if !ok {
		return 0, 0, false
	}
	parts := strings.Split(rest, ":")
	if len(parts) != 4 {
		return 0, 0, false
	}
	w, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || w == 0 {
		return 0, 0, false
	}
	h, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || h == 0 {
		return 0, 0, false
	}
	for _, offset := range parts[2:] {
		if _, err := strconv.ParseUint(offset, 10, 64); err != nil {
			return 0, 0, false
		}
	}
	return w, h, true
}
