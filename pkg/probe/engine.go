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

package probe

import (
	"context"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
)

// Engine is the concrete BusyProber implementation shared by both
// strategies. One Engine serves every HotStandbyDeployment in the
// process; per-HSW state is isolated in hswState, guarded by its own
// mutex, so Snapshot always sees a consistent table.
type Engine struct {
	reader client.Reader
	// probeConcurrency bounds in-flight HTTP probes per HSW.
	probeConcurrency int

	mu     sync.RWMutex
	states map[types.NamespacedName]*hswState
}

// NewEngine constructs an Engine. reader lists selected pods for the
// initial annotation-table fill and for each http probe cycle;
// probeConcurrency bounds per-HSW concurrent HTTP probes.
func NewEngine(reader client.Reader, probeConcurrency int) *Engine {
	if probeConcurrency <= 0 {
		probeConcurrency = 16
	}
	return &Engine{
		reader:           reader,
		probeConcurrency: probeConcurrency,
		states:           make(map[types.NamespacedName]*hswState),
	}
}

var _ BusyProber = (*Engine)(nil)

type hswState struct {
	mu    sync.RWMutex
	table map[PodIdentity]Entry
	asOf  time.Time

	mode          appsv1alpha1.BusyProbeMode
	annotationKey string

	// http mode only.
	cancel context.CancelFunc
}

// stop cancels the state's background scheduler, if any.
func (s *hswState) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RegisterOrUpdate admits hsw into the engine, or refreshes an
// already-admitted one. The probe strategy is fixed at admission time;
// changing busyProbe.mode tears down and recreates the per-HSW state,
// dropping the old table. Without a mode change only the annotation
// key is refreshed: a running http scheduler keeps the port, path,
// timing and selector it was started with.
func (e *Engine) RegisterOrUpdate(ctx context.Context, hsw *appsv1alpha1.HotStandbyDeployment) {
	key := types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}

	e.mu.Lock()
	st, exists := e.states[key]
	modeChanged := !exists || st.mode != hsw.Spec.BusyProbe.Mode
	if exists && modeChanged {
		st.stop()
	}
	if !exists || modeChanged {
		st = &hswState{
			table: make(map[PodIdentity]Entry),
			mode:  hsw.Spec.BusyProbe.Mode,
		}
		e.states[key] = st
	}
	st.mu.Lock()
	st.annotationKey = hsw.Spec.BusyProbe.AnnotationKey
	st.mu.Unlock()
	e.mu.Unlock()

	if !modeChanged {
		return
	}
	switch hsw.Spec.BusyProbe.Mode {
	case appsv1alpha1.BusyProbeModeHTTP:
		e.startHTTPScheduler(key, hsw)
	default:
		e.seedAnnotationTable(ctx, st, hsw)
	}
}

// seedAnnotationTable fills a fresh annotation-mode table by listing
// the selected pods once, so pods that existed before this HSW was
// admitted are counted without waiting for their next watch event.
func (e *Engine) seedAnnotationTable(ctx context.Context, st *hswState, hsw *appsv1alpha1.HotStandbyDeployment) {
	sel, err := metav1.LabelSelectorAsSelector(hsw.Spec.Selector)
	if err != nil {
		return
	}
	var pods corev1.PodList
	if err := e.reader.List(ctx, &pods, client.InNamespace(hsw.Namespace), client.MatchingLabelsSelector{Selector: sel}); err != nil {
		probeLog.Error(err, "listing pods to seed busy table", "hsw", hsw.Namespace+"/"+hsw.Name)
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.mode != appsv1alpha1.BusyProbeModeAnnotation {
		return
	}
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.DeletionTimestamp != nil || isTerminalPhase(pod.Status.Phase) {
			continue
		}
		busy := pod.Annotations[st.annotationKey] == "true"
		st.table[identityOf(pod)] = Entry{Busy: busy, LastObserved: time.Now()}
	}
	st.asOf = time.Now()
}

// Unregister tears down per-HSW state, stopping any background
// scheduler and dropping the busy table. Called on HSW deletion so
// tables never outlive their resource.
func (e *Engine) Unregister(key types.NamespacedName) {
	e.mu.Lock()
	st, ok := e.states[key]
	if ok {
		delete(e.states, key)
	}
	e.mu.Unlock()
	if ok {
		st.stop()
	}
}

// ObservePod applies an add/update event to hswKey's table when that
// HSW is in annotation mode. It is a no-op for http-mode or unknown
// HSWs: the http scheduler owns that table instead.
func (e *Engine) ObservePod(key types.NamespacedName, pod *corev1.Pod) {
	st := e.state(key)
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.mode != appsv1alpha1.BusyProbeModeAnnotation {
		return
	}
	id := identityOf(pod)
	busy := pod.Annotations[st.annotationKey] == "true"
	st.table[id] = Entry{Busy: busy, LastObserved: time.Now()}
	st.asOf = time.Now()
}

// ForgetPod removes a pod's entry, called on pod deletion regardless
// of probe mode.
func (e *Engine) ForgetPod(key types.NamespacedName, id PodIdentity) {
	st := e.state(key)
	if st == nil {
		return
	}
	st.mu.Lock()
	delete(st.table, id)
	st.mu.Unlock()
}

func (e *Engine) state(key types.NamespacedName) *hswState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.states[key]
}

// Snapshot implements BusyProber. selected is the caller's current
// list of selected pod identities; entries outside it are pruned from
// the table as the snapshot is built, which is the engine's garbage
// collection.
func (e *Engine) Snapshot(key types.NamespacedName, selected []PodIdentity) Snapshot {
	st := e.state(key)
	if st == nil {
		return Snapshot{Entries: map[PodIdentity]Entry{}}
	}

	keep := make(map[PodIdentity]struct{}, len(selected))
	for _, id := range selected {
		keep[id] = struct{}{}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	out := make(map[PodIdentity]Entry, len(keep))
	for id := range st.table {
		if _, ok := keep[id]; !ok {
			delete(st.table, id)
			continue
		}
		out[id] = st.table[id]
	}
	return Snapshot{AsOf: st.asOf, Entries: out}
}

// Close stops every background scheduler owned by the engine. Called
// on controller shutdown.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.states {
		st.stop()
	}
}

func identityOf(pod *corev1.Pod) PodIdentity {
	return PodIdentity{Namespace: pod.Namespace, Name: pod.Name, UID: pod.UID}
}

var probeLog = log.Log.WithName("probe")
