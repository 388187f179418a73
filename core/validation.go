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


package core

import "fmt"

// ValidateDocument validates a Document according to domain rules.
//
// Validation rules:
//   - Id must not be empty
//   - FileName must not be empty
//
// NOT validated:
//   - Vendor and Tags (optional metadata)
//   - SizeBytes (0 is valid for empty uploads; they fail later in parsing)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if doc.Id == 0 {
		return fmt.Errorf("%w: id is empty", ErrInvalidDocument)
	}
	if doc.FileName == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyFileName)
	}
	return nil
}

// ValidateChunk validates a DocumentChunk according to domain rules.
//
// Validation rules:
//   - Text must not be empty
//   - Ordinal must not be negative
//   - Span must be well formed (End >= Start)
//   - DocumentId must not be empty
func ValidateChunk(chunk *DocumentChunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyText)
	}
	if chunk.Ordinal < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrInvalidOrdinal)
	}
	if chunk.Span.End < chunk.Span.Start {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrInvalidSpan)
	}
	if chunk.DocumentId == 0 {
		return fmt.Errorf("%w: document id is empty", ErrInvalidChunk)
	}
	return nil
}
