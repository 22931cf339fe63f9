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

// Package v1alpha1 contains the HotStandbyDeployment custom resource
// definition: a workload that maintains a constant buffer of idle
// replicas alongside however many replicas are presently busy.
package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// BusyProbeMode selects how a pod's busy/idle state is determined.
type BusyProbeMode string

const (
	// BusyProbeModeAnnotation derives busy state from a pod annotation,
	// updated purely from watch events. Free, but requires the pod to
	// set its own annotation.
	BusyProbeModeAnnotation BusyProbeMode = "annotation"
	// BusyProbeModeHTTP derives busy state from a periodic HTTP probe
	// against each pod.
	BusyProbeModeHTTP BusyProbeMode = "http"
)

const (
	// DefaultAnnotationKey is the pod annotation consulted in
	// BusyProbeModeAnnotation when BusyProbeSpec.AnnotationKey is unset.
	DefaultAnnotationKey = "paia.tech/busy"
	// TemplateHashAnnotation records the FNV-1a hash of the last pod
	// template materialized onto the child Deployment.
	TemplateHashAnnotation = "apps.paia.tech/template-hash"

	// DefaultHTTPPort is used when BusyProbeSpec.HTTP.Port is unset.
	DefaultHTTPPort = 8080
	// DefaultHTTPPath is used when BusyProbeSpec.HTTP.Path is unset.
	DefaultHTTPPath = "/busy"
	// DefaultHTTPTimeoutSeconds is used when
	// BusyProbeSpec.HTTP.TimeoutSeconds is unset.
	DefaultHTTPTimeoutSeconds = 1
	// DefaultHTTPPeriodSeconds is used when
	// BusyProbeSpec.HTTP.PeriodSeconds is unset.
	DefaultHTTPPeriodSeconds = 10

	// DefaultMaxReplicas is used as an effectively-unbounded ceiling
	// when HotStandbyDeploymentSpec.MaxReplicas is unset.
	DefaultMaxReplicas = 1 << 20
)

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// HotStandbyDeployment declares a workload whose replica count tracks
// busyCount + idleTarget, clamped to [minReplicas, maxReplicas].
type HotStandbyDeployment struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   HotStandbyDeploymentSpec   `json:"spec"`
	Status HotStandbyDeploymentStatus `json:"status,omitempty"`
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// HotStandbyDeploymentList is a list of HotStandbyDeployment resources.
type HotStandbyDeploymentList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []HotStandbyDeployment `json:"items"`
}

// HotStandbyDeploymentSpec is the desired state of an HSW.
type HotStandbyDeploymentSpec struct {
	// IdleTarget is the number of idle replicas to keep buffered above
	// whatever is currently busy. Required, >= 0.
	IdleTarget int32 `json:"idleTarget"`

	// MinReplicas floors the computed replica count. Defaults to 0.
	// +optional
	MinReplicas *int32 `json:"minReplicas,omitempty"`

	// MaxReplicas ceilings the computed replica count. Defaults to a
	// large sentinel (DefaultMaxReplicas) when unset.
	// +optional
	MaxReplicas *int32 `json:"maxReplicas,omitempty"`

	// Selector identifies the pods this HSW counts as busy or idle.
	// Must be non-empty.
	Selector *metav1.LabelSelector `json:"selector"`

	// PodTemplate is copied verbatim into the child Deployment, with
	// labels merged to include every key in Selector.
	PodTemplate corev1.PodTemplateSpec `json:"podTemplate"`

	// BusyProbe configures how a pod's busy state is determined.
	// +optional
	BusyProbe BusyProbeSpec `json:"busyProbe,omitempty"`

	// ScaleDownDelaySeconds defers lowering the child's replica count
	// until the computed desired count has been at or below the
	// current value for this long. Zero (the default) means
	// immediate, undamped convergence.
	// +optional
	ScaleDownDelaySeconds *int32 `json:"scaleDownDelaySeconds,omitempty"`
}

// BusyProbeSpec selects and configures a busy-probe strategy.
type BusyProbeSpec struct {
	// Mode selects the strategy. Defaults to BusyProbeModeAnnotation.
	// +optional
	Mode BusyProbeMode `json:"mode,omitempty"`

	// AnnotationKey is consulted when Mode is BusyProbeModeAnnotation.
	// Defaults to DefaultAnnotationKey.
	// +optional
	AnnotationKey string `json:"annotationKey,omitempty"`

	// HTTP configures the probe used when Mode is BusyProbeModeHTTP.
	// +optional
	HTTP *HTTPProbeSpec `json:"http,omitempty"`
}

// HTTPProbeSpec configures the periodic HTTP busy probe.
type HTTPProbeSpec struct {
	// Port is the pod port to probe. Defaults to DefaultHTTPPort.
	// +optional
	Port int32 `json:"port,omitempty"`

	// Path is the HTTP path to probe. Defaults to DefaultHTTPPath.
	// +optional
	Path string `json:"path,omitempty"`

	// SuccessIsBusy inverts the interpretation of a successful probe
	// when false. Defaults to true.
	// +optional
	SuccessIsBusy *bool `json:"successIsBusy,omitempty"`

	// TimeoutSeconds bounds a single probe request. Defaults to
	// DefaultHTTPTimeoutSeconds.
	// +optional
	TimeoutSeconds int32 `json:"timeoutSeconds,omitempty"`

	// PeriodSeconds is the interval between probe cycles. Defaults to
	// DefaultHTTPPeriodSeconds.
	// +optional
	PeriodSeconds int32 `json:"periodSeconds,omitempty"`
}

// Condition type strings set on HotStandbyDeploymentStatus.Conditions.
const (
	ConditionTypeReady             = "Ready"
	ConditionTypeInvalidSpec       = "InvalidSpec"
	ConditionTypeOwnershipConflict = "OwnershipConflict"
)

// HotStandbyDeploymentStatus is the last-observed state of an HSW,
// written only by the controller.
type HotStandbyDeploymentStatus struct {
	// ObservedGeneration echoes spec.generation once a reconcile for
	// that generation has completed successfully.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// BusyCount is the number of selected pods currently busy.
	BusyCount int32 `json:"busyCount"`
	// IdleCount is the number of selected pods currently idle.
	IdleCount int32 `json:"idleCount"`
	// DesiredReplicas is the last computed clamp(busy+idleTarget, min, max).
	DesiredReplicas int32 `json:"desiredReplicas"`

	// LastScaleDownCandidateAt records when a lower DesiredReplicas was
	// first observed, for ScaleDownDelaySeconds hysteresis.
	// +optional
	LastScaleDownCandidateAt *metav1.Time `json:"lastScaleDownCandidateAt,omitempty"`

	// Conditions surfaces Ready/InvalidSpec/OwnershipConflict.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}
