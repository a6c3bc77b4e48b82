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


package pipeline

import "errors"

var (
	// ErrStoreRequired is returned when no record store is provided.
	ErrStoreRequired = errors.New("record store is required")

	// ErrFetcherRequired is returned when no fetcher is provided.
	ErrFetcherRequired = errors.New("fetcher is required")

	// ErrExtractorRequired is returned when no extractor is provided.
	ErrExtractorRequired = errors.New("extractor is required")

	// ErrUploaderRequired is returned when no uploader is provided.
	ErrUploaderRequired = errors.New("uploader is required")
)
