// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package optimizer

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

//go:embed descriptors/*.toml
var resources embed.FS

var (
	ErrUnknownShortcode = errors.New("unknown objective shortcode")
)

type Argument struct {
	Name        string `toml:"name" json:"name"`
	Description string `toml:"description" json:"description"`
	Typecode    string `toml:"typecode" json:"typecode"`
	Default     string `toml:"default" json:"default"`
}

// Descriptor documents an objective and the parameters it reads
type Descriptor struct {
	Name          string              `toml:"name" json:"name"`
	Shortcode     string              `toml:"shortcode" json:"shortcode"`
	ObjectiveName string              `toml:"objective" json:"objective"`
	Description   string              `toml:"description" json:"description"`
	Source        string              `toml:"source" json:"source"`
	Arguments     map[string]Argument `toml:"arguments" json:"arguments"`
	Objective     Objective           `toml:"-" json:"-"`
}

var (
	registryOnce sync.Once
	registryErr  error
	registry     []*Descriptor
	registryMap  map[string]*Descriptor
)

func loadRegistry() {
	registryMap = make(map[string]*Descriptor)

	files, err := fs.Glob(resources, "descriptors/*.toml")
	if err != nil {
		registryErr = err
		return
	}
	sort.Strings(files)

	for _, fn := range files {
		doc, err := resources.ReadFile(fn)
		if err != nil {
			log.Error().Err(err).Str("File", fn).Msg("failed to read file")
			registryErr = err
			return
		}

		var desc Descriptor
		if err := toml.Unmarshal(doc, &desc); err != nil {
			log.Error().Err(err).Str("File", fn).Msg("failed to parse toml file")
			registryErr = err
			return
		}

		found := false
		for obj, name := range objectiveNames {
			if strings.EqualFold(name, desc.ObjectiveName) {
				desc.Objective = obj
				found = true
			}
		}
		if !found {
			registryErr = fmt.Errorf("%s: unknown objective %q", fn, desc.ObjectiveName)
			return
		}

		registry = append(registry, &desc)
		registryMap[strings.ToLower(desc.Shortcode)] = &desc
	}
}

// Descriptors returns every registered objective ordered by shortcode
func Descriptors() ([]*Descriptor, error) {
	registryOnce.Do(loadRegistry)
	if registryErr != nil {
		return nil, registryErr
	}
	out := make([]*Descriptor, len(registry))
	copy(out, registry)
	sort.Slice(out, func(i, j int) bool { return out[i].Shortcode < out[j].Shortcode })
	return out, nil
}

// Lookup finds a descriptor by shortcode
func Lookup(shortcode string) (*Descriptor, error) {
	registryOnce.Do(loadRegistry)
	if registryErr != nil {
		return nil, registryErr
	}
	desc, ok := registryMap[strings.ToLower(strings.TrimSpace(shortcode))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShortcode, shortcode)
	}
	return desc, nil
}
