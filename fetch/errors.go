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


package fetch

import "fmt"

// TransientError indicates a retryable download failure: timeout,
// connection error or a 5xx response. The fetcher returns it only after
// exhausting its retry policy.
type TransientError struct {
	URL string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch error for %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError indicates a non-retryable download failure: a 4xx
// response, or a response body that is not the expected document (an HTML
// error page behind a 200, a truncated file).
type PermanentError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("permanent fetch error for %s: status %d: %s", e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("permanent fetch error for %s: %s", e.URL, e.Reason)
}
