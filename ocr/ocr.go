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


package ocr

import (
	"context"
	"fmt"
)

// Profile carries the recognition settings for one OCR pass.
type Profile struct {
	// Language is a '+'-joined list of tesseract language codes.
	Language string

	// DPI overrides the assumed resolution of the page image.
	DPI int

	// PSM is the tesseract page segmentation mode. Zero means the
	// recognizer default.
	PSM int
}

// DefaultProfile returns the settings used for the first pass over a
// page: Bengali plus English, standard scan resolution.
func DefaultProfile() Profile {
	return Profile{
		Language: "ben+eng",
		DPI:      300,
	}
}

// RetryProfile returns the settings for the second pass over pages the
// first pass could not read. Higher assumed resolution helps with dense
// or small-print scans.
func RetryProfile() Profile {
	return Profile{
		Language: "ben+eng",
		DPI:      600,
		PSM:      6,
	}
}

// Recognizer converts a single page image into text.
// Implementations must be safe for concurrent use.
type Recognizer interface {
	RecognizeText(ctx context.Context, image []byte, profile Profile) (string, error)
}

// ExtractionError reports a document where every page came back empty.
// It marks the document unreadable rather than transiently failed.
type ExtractionError struct {
	Path  string
	Pages int
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("no recognizable text in %s (%d pages)", e.Path, e.Pages)
}
