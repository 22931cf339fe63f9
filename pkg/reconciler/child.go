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

package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	kerrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
	"github.com/taro0513/HotStandbyDeployment/pkg/events"
)

// materializedTemplate returns hsw's PodTemplate with the selector
// labels merged in, so the child Deployment's selector always matches
// the pods it creates.
func materializedTemplate(hsw *appsv1alpha1.HotStandbyDeployment) corev1.PodTemplateSpec {
	tmpl := *hsw.Spec.PodTemplate.DeepCopy()
	merged := make(map[string]string, len(tmpl.Labels)+len(hsw.Spec.Selector.MatchLabels))
	for k, v := range tmpl.Labels {
		merged[k] = v
	}
	for k, v := range hsw.Spec.Selector.MatchLabels {
		merged[k] = v
	}
	tmpl.Labels = merged
	return tmpl
}

// templateHash returns the FNV-1a 64-bit hash of the canonical JSON
// encoding of tmpl. The hash is stored in an annotation on the child
// Deployment and compared on every reconcile to detect template drift.
func templateHash(tmpl corev1.PodTemplateSpec) (string, error) {
	// encoding/json sorts map keys, giving a canonical encoding for
	// purposes of this hash.
	b, err := json.Marshal(tmpl)
	if err != nil {
		return "", fmt.Errorf("marshaling pod template: %w", err)
	}
	h := fnv.New64a()
	if _, err := h.Write(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

// buildChildDeployment constructs the child Deployment for hsw at the
// given replica count, owned by hsw with controller=true and
// blockOwnerDeletion=true.
func buildChildDeployment(hsw *appsv1alpha1.HotStandbyDeployment, name string, replicas int32, hash string) (*appsv1.Deployment, error) {
	tmpl := materializedTemplate(hsw)
	r := replicas
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: hsw.Namespace,
			Annotations: map[string]string{
				appsv1alpha1.TemplateHashAnnotation: hash,
			},
			OwnerReferences: []metav1.OwnerReference{
				*metav1.NewControllerRef(hsw, appsv1alpha1.GroupVersion.WithKind("HotStandbyDeployment")),
			},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &r,
			Selector: &metav1.LabelSelector{MatchLabels: hsw.Spec.Selector.MatchLabels},
			Template: tmpl,
		},
	}
	return dep, nil
}

// ownedByHSW reports whether child's controlling owner reference
// points at hsw. Nothing is ever patched on a Deployment that fails
// this check.
func ownedByHSW(child *appsv1.Deployment, hsw *appsv1alpha1.HotStandbyDeployment) bool {
	ref := metav1.GetControllerOf(child)
	if ref == nil {
		return false
	}
	return ref.Kind == "HotStandbyDeployment" &&
		ref.APIVersion == appsv1alpha1.GroupVersion.String() &&
		ref.Name == hsw.Name &&
		ref.UID == hsw.UID
}

// childReconcileResult reports what reconcileChild found/did, feeding
// the caller's status and event decisions.
type childReconcileResult struct {
	ownershipConflict    bool
	scaleDownCandidateAt *metav1.Time
}

// reconcileChild creates the child Deployment if absent, patches
// replicas/template if owned and diverged, or reports an ownership
// conflict without mutating anything.
func (r *Reconciler) reconcileChild(ctx context.Context, hsw *appsv1alpha1.HotStandbyDeployment, name string, desired int32) (childReconcileResult, error) {
	var child appsv1.Deployment
	err := r.Client.Get(ctx, client.ObjectKey{Namespace: hsw.Namespace, Name: name}, &child)
	if kerrors.IsNotFound(err) {
		hash, herr := templateHash(materializedTemplate(hsw))
		if herr != nil {
			return childReconcileResult{}, herr
		}
		dep, berr := buildChildDeployment(hsw, name, desired, hash)
		if berr != nil {
			return childReconcileResult{}, berr
		}
		if cerr := r.Client.Create(ctx, dep); cerr != nil {
			if kerrors.IsAlreadyExists(cerr) {
				// Lost a create race, or genuinely foreign: re-read
				// and fall through to the ownership check below.
				if gerr := r.Client.Get(ctx, client.ObjectKey{Namespace: hsw.Namespace, Name: name}, &child); gerr != nil {
					return childReconcileResult{}, gerr
				}
			} else {
				return childReconcileResult{}, fmt.Errorf("creating child %s: %w", name, cerr)
			}
		} else {
			r.Recorder.Normal(hsw, events.ReasonChildCreated, fmt.Sprintf("created %s with %d replicas", name, desired))
			return childReconcileResult{}, nil
		}
	} else if err != nil {
		return childReconcileResult{}, fmt.Errorf("getting child %s: %w", name, err)
	}

	if !ownedByHSW(&child, hsw) {
		return childReconcileResult{ownershipConflict: true}, nil
	}

	result := childReconcileResult{}
	patch := client.MergeFrom(child.DeepCopy())
	changed := false

	hash, err := templateHash(materializedTemplate(hsw))
	if err != nil {
		return childReconcileResult{}, err
	}
	if child.Annotations[appsv1alpha1.TemplateHashAnnotation] != hash {
		tmpl := materializedTemplate(hsw)
		child.Spec.Template = tmpl
		if child.Annotations == nil {
			child.Annotations = map[string]string{}
		}
		child.Annotations[appsv1alpha1.TemplateHashAnnotation] = hash
		changed = true
		r.Recorder.Normal(hsw, events.ReasonTemplateUpdated, fmt.Sprintf("%s pod template updated", name))
	}

	currentReplicas := int32(0)
	if child.Spec.Replicas != nil {
		currentReplicas = *child.Spec.Replicas
	}
	if currentReplicas != desired {
		allow, candidateAt := r.allowReplicaChange(hsw, currentReplicas, desired)
		result.scaleDownCandidateAt = candidateAt
		if allow {
			r.Recorder.Normal(hsw, events.ReasonChildScaled, fmt.Sprintf("%s scaled from %d to %d", name, currentReplicas, desired))
			child.Spec.Replicas = &desired
			changed = true
		}
	}

	if changed {
		if err := r.Client.Patch(ctx, &child, patch); err != nil {
			return childReconcileResult{}, fmt.Errorf("patching child %s: %w", name, err)
		}
	}
	return result, nil
}

// allowReplicaChange implements optional scale-down hysteresis: when
// scaling up, or when ScaleDownDelaySeconds is 0, the change is
// applied immediately. When scaling down with a configured delay, the
// change is deferred until desired has been at or below the current
// value for that long.
func (r *Reconciler) allowReplicaChange(hsw *appsv1alpha1.HotStandbyDeployment, current, desired int32) (bool, *metav1.Time) {
	if desired >= current {
		return true, nil
	}
	delay := int32(0)
	if hsw.Spec.ScaleDownDelaySeconds != nil {
		delay = *hsw.Spec.ScaleDownDelaySeconds
	}
	if delay <= 0 {
		return true, nil
	}
	candidate := hsw.Status.LastScaleDownCandidateAt
	now := metav1.Now()
	if candidate == nil {
		return false, &now
	}
	if time.Since(candidate.Time) >= time.Duration(delay)*time.Second {
		return true, nil
	}
	return false, candidate
}
