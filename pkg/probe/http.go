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
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
	"github.com/taro0513/HotStandbyDeployment/pkg/metrics"
)

// startHTTPScheduler launches the per-HSW periodic poller. The
// scheduler's lifetime is owned by the engine, not by whichever caller
// admitted the HSW: it runs until Unregister, a mode change, or Close
// calls its cancel func.
func (e *Engine) startHTTPScheduler(key types.NamespacedName, hsw *appsv1alpha1.HotStandbyDeployment) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.RLock()
	st := e.states[key]
	e.mu.RUnlock()
	if st == nil {
		cancel()
		return
	}
	st.mu.Lock()
	st.cancel = cancel
	st.mu.Unlock()

	spec := hsw.Spec.BusyProbe.HTTP
	if spec == nil {
		spec = &appsv1alpha1.HTTPProbeSpec{
			Port:           appsv1alpha1.DefaultHTTPPort,
			Path:           appsv1alpha1.DefaultHTTPPath,
			TimeoutSeconds: appsv1alpha1.DefaultHTTPTimeoutSeconds,
			PeriodSeconds:  appsv1alpha1.DefaultHTTPPeriodSeconds,
		}
		t := true
		spec.SuccessIsBusy = &t
	}
	selector := hsw.Spec.Selector
	namespace := hsw.Namespace

	go func() {
		period := time.Duration(spec.PeriodSeconds) * time.Second
		if period <= 0 {
			period = appsv1alpha1.DefaultHTTPPeriodSeconds * time.Second
		}
		// Jitter the first tick by up to 10% to avoid a thundering
		// herd across many HSWs admitted at once.
		jitter := time.Duration(rand.Int63n(int64(period) / 10))
		timer := time.NewTimer(jitter)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				e.runHTTPCycle(ctx, key, st, namespace, selector, *spec)
				timer.Reset(period)
			}
		}
	}()
}

func (e *Engine) runHTTPCycle(ctx context.Context, key types.NamespacedName, st *hswState, namespace string, selector *metav1.LabelSelector, spec appsv1alpha1.HTTPProbeSpec) {
	sel, err := metav1.LabelSelectorAsSelector(selector)
	if err != nil {
		probeLog.Error(err, "invalid selector, skipping http probe cycle", "hsw", key)
		return
	}

	var pods corev1.PodList
	if err := e.reader.List(ctx, &pods, client.InNamespace(namespace), client.MatchingLabelsSelector{Selector: sel}); err != nil {
		probeLog.Error(err, "listing pods for http probe cycle", "hsw", key)
		return
	}

	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = appsv1alpha1.DefaultHTTPTimeoutSeconds * time.Second
	}
	successIsBusy := spec.SuccessIsBusy == nil || *spec.SuccessIsBusy

	httpClient := &http.Client{Timeout: timeout}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.probeConcurrency)

	type result struct {
		id     PodIdentity
		busy   bool
		errMsg string
		skip   bool
	}
	results := make(chan result, len(pods.Items))

	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.DeletionTimestamp != nil || isTerminalPhase(pod.Status.Phase) {
			continue
		}
		if pod.Status.PodIP == "" || podReadyFalse(pod) {
			continue
		}
		g.Go(func() error {
			busy, probeErr := probeOne(gctx, httpClient, pod, spec, successIsBusy)
			r := result{id: identityOf(pod)}
			if probeErr != nil {
				r.errMsg = probeErr.Error()
				r.skip = true
			} else {
				r.busy = busy
			}
			select {
			case results <- r:
			case <-gctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	st.mu.Lock()
	for r := range results {
		prev, had := st.table[r.id]
		if r.skip {
			metrics.ProbeErrorsTotal.WithLabelValues(string(appsv1alpha1.BusyProbeModeHTTP)).Inc()
			if had {
				prev.LastProbeError = r.errMsg
				prev.LastObserved = time.Now()
				st.table[r.id] = prev
			} else {
				// First probe for this pod failed: treated as idle.
				st.table[r.id] = Entry{Busy: false, LastObserved: time.Now(), LastProbeError: r.errMsg}
			}
			continue
		}
		st.table[r.id] = Entry{Busy: r.busy, LastObserved: time.Now()}
	}
	st.asOf = time.Now()
	st.mu.Unlock()
}

func probeOne(ctx context.Context, httpClient *http.Client, pod *corev1.Pod, spec appsv1alpha1.HTTPProbeSpec, successIsBusy bool) (bool, error) {
	port := spec.Port
	if port == 0 {
		port = appsv1alpha1.DefaultHTTPPort
	}
	path := spec.Path
	if path == "" {
		path = appsv1alpha1.DefaultHTTPPath
	}
	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(pod.Status.PodIP, fmt.Sprint(port)), path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	// busy = (response == success) XNOR successIsBusy
	busy := success == successIsBusy
	return busy, nil
}

func isTerminalPhase(phase corev1.PodPhase) bool {
	return phase == corev1.PodSucceeded || phase == corev1.PodFailed
}

func podReadyFalse(pod *corev1.Pod) bool {
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionFalse
		}
	}
	return false
}
