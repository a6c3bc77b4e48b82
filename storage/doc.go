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


// Package storage defines the record store abstraction for regdex.
//
// The RecordStore interface decouples the pipeline from the storage backend
// (BadgerDB in production, in-memory for tests). Its conditional Transition
// operation is the sole concurrency-control point in the system: stage
// advancement requires the expected prior status, so two workers can never
// advance the same record twice.
//
// Serialization of records uses MUS format (see the serializer values in
// package core); the helpers here wrap them for storage backends.
package storage
