// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package tesseract implements ocr.Recognizer on top of the tesseract
// engine via gosseract.
package tesseract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"github.com/poiesic/regdex/ocr"
)

// Recognizer runs tesseract over page images. A fresh gosseract client
// is created per call; the underlying tesseract handle is not safe to
// share across goroutines.
type Recognizer struct{}

// NewRecognizer creates a tesseract-backed recognizer.
func NewRecognizer() *Recognizer {
	return &Recognizer{}
}

// RecognizeText OCRs one page image with the given profile.
func (r *Recognizer) RecognizeText(ctx context.Context, image []byte, profile ocr.Profile) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	client := gosseract.NewClient()
	defer client.Close()

	if profile.Language != "" {
		if err := client.SetLanguage(strings.Split(profile.Language, "+")...); err != nil {
			return "", fmt.Errorf("failed to set language %q: %w", profile.Language, err)
		}
	}
	if profile.DPI > 0 {
		if err := client.SetVariable("user_defined_dpi", strconv.Itoa(profile.DPI)); err != nil {
			return "", fmt.Errorf("failed to set dpi: %w", err)
		}
	}
	if profile.PSM > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(profile.PSM)); err != nil {
			return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("failed to load page image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("recognition failed: %w", err)
	}
	return text, nil
}
