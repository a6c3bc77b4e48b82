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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// minPageChars is the threshold below which a page result counts as
// unreadable and earns a second pass with the retry profile.
const minPageChars = 20

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t]+`)
)

// Extractor runs OCR over a PDF file page by page.
type Extractor struct {
	recognizer   Recognizer
	profile      Profile
	retryProfile Profile
	logger       *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithProfile sets the first-pass recognition profile.
func WithProfile(p Profile) ExtractorOption {
	return func(e *Extractor) { e.profile = p }
}

// WithRetryProfile sets the profile for re-reading near-empty pages.
func WithRetryProfile(p Profile) ExtractorOption {
	return func(e *Extractor) { e.retryProfile = p }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExtractor creates an Extractor backed by the given recognizer.
func NewExtractor(recognizer Recognizer, opts ...ExtractorOption) (*Extractor, error) {
	if recognizer == nil {
		return nil, errors.New("recognizer required")
	}
	e := &Extractor{
		recognizer:   recognizer,
		profile:      DefaultProfile(),
		retryProfile: RetryProfile(),
		logger:       slog.Default().With("component", "ocr"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// ExtractText OCRs every page of the PDF at path and returns the
// cleaned-up concatenated text plus the page count. A non-empty
// language overrides the configured profiles' language for this
// document. Returns *ExtractionError when no page yields readable text.
func (e *Extractor) ExtractText(ctx context.Context, path, language string) (string, int, error) {
	profile, retryProfile := e.profilesFor(language)
	tempDir, err := os.MkdirTemp("", "regdex-ocr-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	optimized := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(path, optimized); err != nil {
		return "", 0, fmt.Errorf("failed to optimize %s: %w", path, err)
	}

	pageCount, err := api.PageCountFile(optimized)
	if err != nil {
		return "", 0, fmt.Errorf("failed to count pages in %s: %w", path, err)
	}
	if err := api.SplitFile(optimized, tempDir, 1, nil); err != nil {
		return "", 0, fmt.Errorf("failed to split %s: %w", path, err)
	}

	splitBase := strings.TrimSuffix(optimized, filepath.Ext(optimized))

	var pages []string
	readable := 0
	for n := 1; n <= pageCount; n++ {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		default:
		}

		pagePath := fmt.Sprintf("%s_%d.pdf", splitBase, n)
		text, err := e.extractPage(ctx, pagePath, n, profile, retryProfile)
		if err != nil {
			return "", 0, fmt.Errorf("page %d of %s: %w", n, path, err)
		}
		if text != "" {
			readable++
		} else {
			e.logger.Warn("page yielded no text", "path", path, "page", n)
		}
		pages = append(pages, text)

		// One page's artifacts on disk at a time.
		os.Remove(pagePath)
	}

	text := normalizeText(strings.Join(pages, "\n\n"))
	if readable == 0 || text == "" {
		return "", pageCount, &ExtractionError{Path: path, Pages: pageCount}
	}

	e.logger.Debug("extracted text",
		"path", path, "pages", pageCount, "readable", readable, "chars", len(text))
	return text, pageCount, nil
}

// profilesFor lays a per-document language hint over the configured
// profiles. An empty hint leaves them untouched.
func (e *Extractor) profilesFor(language string) (Profile, Profile) {
	profile, retryProfile := e.profile, e.retryProfile
	if language != "" {
		profile.Language = language
		retryProfile.Language = language
	}
	return profile, retryProfile
}

// extractPage pulls the embedded images out of a single-page PDF and
// runs the recognizer over them.
func (e *Extractor) extractPage(ctx context.Context, pagePath string, n int, profile, retryProfile Profile) (string, error) {
	imageDir := filepath.Join(filepath.Dir(pagePath), fmt.Sprintf("page-%d", n))
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		return "", err
	}
	defer os.RemoveAll(imageDir)

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ExtractImagesFile(pagePath, imageDir, nil, cfg); err != nil {
		return "", fmt.Errorf("failed to extract images: %w", err)
	}

	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return "", err
	}

	var images [][]byte
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(imageDir, entry.Name()))
		if err != nil {
			return "", err
		}
		images = append(images, data)
	}

	return e.readPage(ctx, images, profile, retryProfile)
}

// readPage recognizes a page's images with the first-pass profile and,
// when the result is too short to be a real page, tries again with the
// retry profile before giving up on the page.
func (e *Extractor) readPage(ctx context.Context, images [][]byte, profile, retryProfile Profile) (string, error) {
	text, err := e.recognizeImages(ctx, images, profile)
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(text)) >= minPageChars {
		return text, nil
	}

	retried, err := e.recognizeImages(ctx, images, retryProfile)
	if err != nil {
		return "", err
	}
	if len(strings.TrimSpace(retried)) > len(strings.TrimSpace(text)) {
		return retried, nil
	}
	return text, nil
}

func (e *Extractor) recognizeImages(ctx context.Context, images [][]byte, profile Profile) (string, error) {
	var parts []string
	for _, image := range images {
		text, err := e.recognizer.RecognizeText(ctx, image, profile)
		if err != nil {
			return "", err
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// normalizeText collapses OCR noise: runs of spaces become one space,
// trailing whitespace goes, and runs of blank lines shrink to a single
// blank line.
func normalizeText(text string) string {
	text = spaceRuns.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	text = strings.Join(lines, "\n")

	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
