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


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidRecord indicates a DocumentRecord failed validation.
	ErrInvalidRecord = errors.New("invalid document record")

	// ErrEmptyID indicates the Id field is empty.
	ErrEmptyID = errors.New("document id cannot be empty")

	// ErrEmptySourceURL indicates the SourceURL field is empty.
	ErrEmptySourceURL = errors.New("source url cannot be empty")

	// ErrInvalidStatus indicates an invalid Status value.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition indicates a status change that skips stages or
	// moves backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
)
