//go:build !ignore_autogenerated

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

// Code generated by hand in the style of controller-gen's
// deepcopy-gen. DO NOT rely on reflection-based copying here: these
// methods exist so the types satisfy runtime.Object.

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// DeepCopyInto copies the receiver into out.
func (in *HotStandbyDeployment) DeepCopyInto(out *HotStandbyDeployment) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	in.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	in.Spec.DeepCopyInto(&out.Spec)
	in.Status.DeepCopyInto(&out.Status)
}

// DeepCopy returns a deep copy of the receiver.
func (in *HotStandbyDeployment) DeepCopy() *HotStandbyDeployment {
	if in == nil {
		return nil
	}
	out := new(HotStandbyDeployment)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (in *HotStandbyDeployment) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver into out.
func (in *HotStandbyDeploymentList) DeepCopyInto(out *HotStandbyDeploymentList) {
	*out = *in
	out.TypeMeta = in.TypeMeta
	out.ListMeta = in.ListMeta
	if in.Items != nil {
		l := make([]HotStandbyDeployment, len(in.Items))
		for i := range in.Items {
			in.Items[i].DeepCopyInto(&l[i])
		}
		out.Items = l
	}
}

// DeepCopy returns a deep copy of the receiver.
func (in *HotStandbyDeploymentList) DeepCopy() *HotStandbyDeploymentList {
	if in == nil {
		return nil
	}
	out := new(HotStandbyDeploymentList)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (in *HotStandbyDeploymentList) DeepCopyObject() runtime.Object {
	if c := in.DeepCopy(); c != nil {
		return c
	}
	return nil
}

// DeepCopyInto copies the receiver into out.
func (in *HotStandbyDeploymentSpec) DeepCopyInto(out *HotStandbyDeploymentSpec) {
	*out = *in
	if in.MinReplicas != nil {
		v := *in.MinReplicas
		out.MinReplicas = &v
	}
	if in.MaxReplicas != nil {
		v := *in.MaxReplicas
		out.MaxReplicas = &v
	}
	if in.Selector != nil {
		out.Selector = in.Selector.DeepCopy()
	}
	in.PodTemplate.DeepCopyInto(&out.PodTemplate)
	in.BusyProbe.DeepCopyInto(&out.BusyProbe)
	if in.ScaleDownDelaySeconds != nil {
		v := *in.ScaleDownDelaySeconds
		out.ScaleDownDelaySeconds = &v
	}
}

// DeepCopy returns a deep copy of the receiver.
func (in *HotStandbyDeploymentSpec) DeepCopy() *HotStandbyDeploymentSpec {
	if in == nil {
		return nil
	}
	out := new(HotStandbyDeploymentSpec)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (in *BusyProbeSpec) DeepCopyInto(out *BusyProbeSpec) {
	*out = *in
	if in.HTTP != nil {
		out.HTTP = in.HTTP.DeepCopy()
	}
}

// DeepCopy returns a deep copy of the receiver.
func (in *BusyProbeSpec) DeepCopy() *BusyProbeSpec {
	if in == nil {
		return nil
	}
	out := new(BusyProbeSpec)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (in *HTTPProbeSpec) DeepCopyInto(out *HTTPProbeSpec) {
	*out = *in
	if in.SuccessIsBusy != nil {
		v := *in.SuccessIsBusy
		out.SuccessIsBusy = &v
	}
}

// DeepCopy returns a deep copy of the receiver.
func (in *HTTPProbeSpec) DeepCopy() *HTTPProbeSpec {
	if in == nil {
		return nil
	}
	out := new(HTTPProbeSpec)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver into out.
func (in *HotStandbyDeploymentStatus) DeepCopyInto(out *HotStandbyDeploymentStatus) {
	*out = *in
	if in.LastScaleDownCandidateAt != nil {
		out.LastScaleDownCandidateAt = in.LastScaleDownCandidateAt.DeepCopy()
	}
	if in.Conditions != nil {
		l := make([]metav1.Condition, len(in.Conditions))
		for i := range in.Conditions {
			in.Conditions[i].DeepCopyInto(&l[i])
		}
		out.Conditions = l
	}
}

// DeepCopy returns a deep copy of the receiver.
func (in *HotStandbyDeploymentStatus) DeepCopy() *HotStandbyDeploymentStatus {
	if in == nil {
		return nil
	}
	out := new(HotStandbyDeploymentStatus)
	in.DeepCopyInto(out)
	return out
}
