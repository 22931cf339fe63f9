/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package controller

import (
	"sync"

	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
)

// selectorIndex maps every known HotStandbyDeployment's
// (namespace, selector) so pod events can be routed to the HSWs they
// affect. More than one selector may match the same pod; the index
// reports every match rather than picking one.
type selectorIndex struct {
	mu   sync.RWMutex
	byNS map[string]map[types.NamespacedName]labels.Selector
}

func newSelectorIndex() *selectorIndex {
	return &selectorIndex{byNS: make(map[string]map[types.NamespacedName]labels.Selector)}
}

func (s *selectorIndex) put(key types.NamespacedName, sel labels.Selector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byNS[key.Namespace]
	if !ok {
		m = make(map[types.NamespacedName]labels.Selector)
		s.byNS[key.Namespace] = m
	}
	m[key] = sel
}

func (s *selectorIndex) remove(key types.NamespacedName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byNS[key.Namespace]
	if !ok {
		return
	}
	delete(m, key)
	if len(m) == 0 {
		delete(s.byNS, key.Namespace)
	}
}

// matches returns every HSW in namespace whose selector matches set.
func (s *selectorIndex) matches(namespace string, set map[string]string) []types.NamespacedName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byNS[namespace]
	if !ok {
		return nil
	}
	lbls := labels.Set(set)
	var out []types.NamespacedName
	for key, sel := range m {
		if sel.Matches(lbls) {
			out = append(out, key)
		}
	}
	return out
}
