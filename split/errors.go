// Copyright 2025 Opsgrid Labs
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


package split

import "errors"

var (
	// ErrDocumentIdRequired is returned when Split is called without a document id.
	ErrDocumentIdRequired = errors.New("document id required")

	// ErrEmptyDocument is returned when the parsed document has no blocks.
	ErrEmptyDocument = errors.New("parsed document has no blocks")
)
