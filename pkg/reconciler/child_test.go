package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
)

func newHSW() *appsv1alpha1.HotStandbyDeployment {
	hsw := &appsv1alpha1.HotStandbyDeployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "web",
			Namespace: "default",
			UID:       types.UID("hsw-uid"),
		},
		Spec: appsv1alpha1.HotStandbyDeploymentSpec{
			IdleTarget: 2,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": "web"},
			},
			PodTemplate: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: map[string]string{"tier": "frontend"},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "web", Image: "web:v1"}},
				},
			},
		},
	}
	appsv1alpha1.SetDefaults(hsw)
	return hsw
}

func TestMaterializedTemplateMergesSelectorLabels(t *testing.T) {
	hsw := newHSW()
	tmpl := materializedTemplate(hsw)
	assert.Equal(t, "frontend", tmpl.Labels["tier"])
	assert.Equal(t, "web", tmpl.Labels["app"])
}

func TestTemplateHashIsStableAndSensitiveToContent(t *testing.T) {
	hsw := newHSW()
	h1, err := templateHash(materializedTemplate(hsw))
	require.NoError(t, err)
	h2, err := templateHash(materializedTemplate(hsw))
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "hash must be stable across calls for the same template")

	hsw.Spec.PodTemplate.Spec.Containers[0].Image = "web:v2"
	h3, err := templateHash(materializedTemplate(hsw))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "hash must change when the template changes")
}

func TestBuildChildDeploymentSetsControllerOwnerRef(t *testing.T) {
	hsw := newHSW()
	hash, err := templateHash(materializedTemplate(hsw))
	require.NoError(t, err)

	dep, err := buildChildDeployment(hsw, "web-workload", 3, hash)
	require.NoError(t, err)

	require.Len(t, dep.OwnerReferences, 1)
	ref := dep.OwnerReferences[0]
	assert.Equal(t, "HotStandbyDeployment", ref.Kind)
	assert.Equal(t, hsw.Name, ref.Name)
	assert.Equal(t, hsw.UID, ref.UID)
	require.NotNil(t, ref.Controller)
	assert.True(t, *ref.Controller)
	require.NotNil(t, ref.BlockOwnerDeletion)
	assert.True(t, *ref.BlockOwnerDeletion)

	require.NotNil(t, dep.Spec.Replicas)
	assert.EqualValues(t, 3, *dep.Spec.Replicas)
	assert.Equal(t, hash, dep.Annotations[appsv1alpha1.TemplateHashAnnotation])
}

func TestOwnedByHSW(t *testing.T) {
	hsw := newHSW()
	hash, err := templateHash(materializedTemplate(hsw))
	require.NoError(t, err)
	dep, err := buildChildDeployment(hsw, "web-workload", 1, hash)
	require.NoError(t, err)

	assert.True(t, ownedByHSW(dep, hsw))

	other := newHSW()
	other.Name = "other"
	other.UID = types.UID("other-uid")
	assert.False(t, ownedByHSW(dep, other))

	foreign := dep.DeepCopy()
	foreign.OwnerReferences = nil
	assert.False(t, ownedByHSW(foreign, hsw))
}

func TestAllowReplicaChangeImmediateWhenNoDelay(t *testing.T) {
	r := &Reconciler{}
	hsw := newHSW()

	allow, candidate := r.allowReplicaChange(hsw, 5, 2)
	assert.True(t, allow)
	assert.Nil(t, candidate)
}

func TestAllowReplicaChangeScaleUpNeverDelayed(t *testing.T) {
	r := &Reconciler{}
	hsw := newHSW()
	delay := int32(300)
	hsw.Spec.ScaleDownDelaySeconds = &delay

	allow, candidate := r.allowReplicaChange(hsw, 2, 5)
	assert.True(t, allow)
	assert.Nil(t, candidate)
}

func TestAllowReplicaChangeHoldsDownscaleUntilDelayElapses(t *testing.T) {
	r := &Reconciler{}
	hsw := newHSW()
	delay := int32(300)
	hsw.Spec.ScaleDownDelaySeconds = &delay

	allow, candidate := r.allowReplicaChange(hsw, 5, 2)
	require.False(t, allow)
	require.NotNil(t, candidate)

	past := metav1.NewTime(candidate.Add(-400 * time.Second))
	hsw.Status.LastScaleDownCandidateAt = &past
	allow, candidate = r.allowReplicaChange(hsw, 5, 2)
	assert.True(t, allow)
	assert.Nil(t, candidate)
}
