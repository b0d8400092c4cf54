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

package cducfg

import (
	"path/filepath"
	"sync"
)

// Repository is the ConfigRepository: a singleton per absolute config
// directory, holding the loaded Settings, component params, and both
// task lists.
type Repository struct {
	Dir               string
	Settings          Settings
	Components        []ComponentParam
	Tasks             []TaskDescriptor
	LowFrequencyTasks []TaskDescriptor
}

// ComponentByName does a linear scan; component lists are small (tens of
// entries) and looked up only at bootstrap and on ComponentWriter calls,
// which is already serialized by the writer's own logic.
func (r *Repository) ComponentByName(name string) (*ComponentParam, bool) {
	for i := range r.Components {
		if r.Components[i].Name == name {
			return &r.Components[i], true
		}
	}
	return nil, false
}

var (
	repoMu    sync.Mutex
	repoCache = map[string]*Repository{}
)

// Load reads the four JSON files from dir and returns the cached
// Repository for that absolute path if one was already loaded —
// ConfigRepository is a singleton per absolute config path.
func Load(dir string) (*Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	repoMu.Lock()
	defer repoMu.Unlock()
	if cached, ok := repoCache[abs]; ok {
		return cached, nil
	}

	settings, err := loadSettings(filepath.Join(abs, "settings.json"))
	if err != nil {
		return nil, err
	}
	components, err := loadComponents(filepath.Join(abs, "cdu_120kw_component.json"))
	if err != nil {
		return nil, err
	}
	tasks, err := loadTasks(filepath.Join(abs, "communication_task.json"))
	if err != nil {
		return nil, err
	}
	lowFreqTasks, err := loadTasks(filepath.Join(abs, "low_frequency_task.json"))
	if err != nil {
		return nil, err
	}

	repo := &Repository{
		Dir:               abs,
		Settings:          settings,
		Components:        components,
		Tasks:             tasks,
		LowFrequencyTasks: lowFreqTasks,
	}
	repoCache[abs] = repo
	return repo, nil
}
