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

import (
	"errors"
	"fmt"
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidChunk indicates a DocumentChunk failed validation.
	ErrInvalidChunk = errors.New("invalid document chunk")

	// ErrEmptyText indicates a chunk's Text field is empty.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrEmptyFileName indicates a document's FileName field is empty.
	ErrEmptyFileName = errors.New("file name cannot be empty")

	// ErrInvalidSpan indicates a SourceSpan with End before Start.
	ErrInvalidSpan = errors.New("span end must not precede start")

	// ErrInvalidOrdinal indicates a negative chunk ordinal.
	ErrInvalidOrdinal = errors.New("ordinal cannot be negative")

	// ErrInvalidTransition indicates a job status move outside the state graph.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// TransitionError describes a rejected job status transition.
type TransitionError struct {
	From JobStatus
	To   JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid job status transition: %s -> %s", e.From, e.To)
}

// Is makes TransitionError match ErrInvalidTransition via errors.Is.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
