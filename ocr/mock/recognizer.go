// Package mock provides a test double for ocr.Recognizer.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/regdex/ocr"
)

// MockRecognizer is a test double for ocr.Recognizer.
// It allows custom behavior injection via function fields.
type MockRecognizer struct {
	// RecognizeTextFunc is called by RecognizeText if set.
	// If nil, uses default deterministic behavior.
	RecognizeTextFunc func(ctx context.Context, image []byte, profile ocr.Profile) (string, error)

	mu        sync.Mutex
	callCount int
	profiles  []ocr.Profile
}

// NewMockRecognizer creates a mock recognizer with default behavior.
func NewMockRecognizer() *MockRecognizer {
	return &MockRecognizer{}
}

// RecognizeText returns deterministic text derived from the image bytes.
func (m *MockRecognizer) RecognizeText(ctx context.Context, image []byte, profile ocr.Profile) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.profiles = append(m.profiles, profile)
	m.mu.Unlock()

	if m.RecognizeTextFunc != nil {
		return m.RecognizeTextFunc(ctx, image, profile)
	}

	// Default: pretend every image reads as a short line of text.
	return fmt.Sprintf("recognized %d bytes at %d dpi", len(image), profile.DPI), nil
}

// CallCount returns the number of RecognizeText calls.
func (m *MockRecognizer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Profiles returns the profiles seen by each call, in order.
func (m *MockRecognizer) Profiles() []ocr.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ocr.Profile(nil), m.profiles...)
}
