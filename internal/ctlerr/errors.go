// Copyright 2025 Edgeo SCADA
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

// Package ctlerr holds the taxonomy members that carry context beyond a
// plain sentinel (spec.md §7's TaskRejection/ConfigError kinds), mirrored
// on mbproto.ModbusError's {code, detail} shape.
package ctlerr

import "fmt"

// Kind enumerates the parametric taxonomy members.
type Kind string

const (
	KindTaskRejection Kind = "task_rejection"
	KindConfigError   Kind = "config_error"
)

// ControllerError is a taxonomy member that needs to carry a detail
// string alongside its kind (e.g. which config file failed to load, or
// why a write job was rejected before being enqueued).
type ControllerError struct {
	Kind   Kind
	Detail string
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("controller: %s: %s", e.Kind, e.Detail)
}

func (e *ControllerError) Is(target error) bool {
	t, ok := target.(*ControllerError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a ControllerError of the given kind.
func New(kind Kind, detail string) *ControllerError {
	return &ControllerError{Kind: kind, Detail: detail}
}
