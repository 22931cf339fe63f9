package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
	"github.com/taro0513/HotStandbyDeployment/pkg/events"
	"github.com/taro0513/HotStandbyDeployment/pkg/probe"
)

func TestClamp(t *testing.T) {
	assert.EqualValues(t, 0, clamp(-5, 0, 10))
	assert.EqualValues(t, 10, clamp(50, 0, 10))
	assert.EqualValues(t, 4, clamp(4, 0, 10))
}

func TestValidateRejectsEmptySelector(t *testing.T) {
	hsw := newHSW()
	hsw.Spec.Selector = &metav1.LabelSelector{}
	invalid, reason := validate(hsw)
	assert.True(t, invalid)
	assert.Contains(t, reason, "selector")
}

func TestValidateRejectsMinGreaterThanMax(t *testing.T) {
	hsw := newHSW()
	min := int32(10)
	max := int32(5)
	hsw.Spec.MinReplicas = &min
	hsw.Spec.MaxReplicas = &max
	invalid, reason := validate(hsw)
	assert.True(t, invalid)
	assert.Contains(t, reason, "minReplicas")
}

func TestValidateAcceptsDefaultedSpec(t *testing.T) {
	hsw := newHSW()
	invalid, _ := validate(hsw)
	assert.False(t, invalid)
}

// fakeProber is a minimal probe.BusyProber for reconciler tests: every
// identity passed to Snapshot is reported busy iff its name is in
// busyNames.
type fakeProber struct {
	busyNames map[string]bool
}

func (f *fakeProber) Snapshot(_ types.NamespacedName, selected []probe.PodIdentity) probe.Snapshot {
	entries := make(map[probe.PodIdentity]probe.Entry, len(selected))
	for _, id := range selected {
		entries[id] = probe.Entry{Busy: f.busyNames[id.Name]}
	}
	return probe.Snapshot{Entries: entries}
}

func (f *fakeProber) Close() {}

func newReconcilerFixture(t *testing.T, hsw *appsv1alpha1.HotStandbyDeployment, pods []corev1.Pod, busy map[string]bool) (*Reconciler, *fake.ClientBuilder) {
	t.Helper()
	scheme := newTestScheme(t)
	require.NoError(t, appsv1.AddToScheme(scheme))
	require.NoError(t, corev1.AddToScheme(scheme))

	objs := []client.Object{hsw}
	for i := range pods {
		objs = append(objs, &pods[i])
	}

	builder := fake.NewClientBuilder().WithScheme(scheme).WithStatusSubresource(&appsv1alpha1.HotStandbyDeployment{})
	for _, o := range objs {
		builder = builder.WithObjects(o)
	}

	c := builder.Build()
	r := &Reconciler{
		Client:   c,
		Probes:   &fakeProber{busyNames: busy},
		Recorder: events.NewRateLimitedRecorder(record.NewFakeRecorder(100)),
	}
	return r, builder
}

func TestReconcileCreatesChildWithDesiredReplicas(t *testing.T) {
	hsw := newHSW()
	pod1 := podWithLabels("p1", hsw.Spec.Selector.MatchLabels)
	pod2 := podWithLabels("p2", hsw.Spec.Selector.MatchLabels)

	r, _ := newReconcilerFixture(t, hsw, []corev1.Pod{pod1, pod2}, map[string]bool{"p1": true})

	res, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}})
	require.NoError(t, err)
	assert.Greater(t, res.RequeueAfter.Seconds(), float64(0))

	var dep appsv1.Deployment
	require.NoError(t, r.Client.Get(context.Background(), types.NamespacedName{Namespace: hsw.Namespace, Name: "web-workload"}, &dep))
	require.NotNil(t, dep.Spec.Replicas)
	// busy=1 + idleTarget=2 = 3
	assert.EqualValues(t, 3, *dep.Spec.Replicas)

	var got appsv1alpha1.HotStandbyDeployment
	require.NoError(t, r.Client.Get(context.Background(), types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}, &got))
	assert.EqualValues(t, 1, got.Status.BusyCount)
	assert.EqualValues(t, 1, got.Status.IdleCount)
	assert.EqualValues(t, 3, got.Status.DesiredReplicas)
}

func TestReconcileReportsOwnershipConflict(t *testing.T) {
	hsw := newHSW()
	foreignOwned := appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "web-workload",
			Namespace: hsw.Namespace,
		},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: hsw.Spec.Selector.MatchLabels},
			Template: hsw.Spec.PodTemplate,
		},
	}

	scheme := newTestScheme(t)
	require.NoError(t, appsv1.AddToScheme(scheme))
	require.NoError(t, corev1.AddToScheme(scheme))
	c := fake.NewClientBuilder().WithScheme(scheme).
		WithStatusSubresource(&appsv1alpha1.HotStandbyDeployment{}).
		WithObjects(hsw, &foreignOwned).Build()

	r := &Reconciler{
		Client:   c,
		Probes:   &fakeProber{},
		Recorder: events.NewRateLimitedRecorder(record.NewFakeRecorder(100)),
	}

	res, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}})
	require.NoError(t, err)
	assert.Equal(t, LongBackoffInterval, res.RequeueAfter)

	var got appsv1alpha1.HotStandbyDeployment
	require.NoError(t, r.Client.Get(context.Background(), types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}, &got))
	require.Len(t, got.Status.Conditions, 1)
	assert.Equal(t, appsv1alpha1.ConditionTypeOwnershipConflict, got.Status.Conditions[0].Type)

	// The foreign Deployment must be untouched.
	var dep appsv1.Deployment
	require.NoError(t, r.Client.Get(context.Background(), types.NamespacedName{Namespace: hsw.Namespace, Name: "web-workload"}, &dep))
	assert.Nil(t, dep.Spec.Replicas)
}

func TestReconcileInvalidSpecSetsConditionAndLongBackoff(t *testing.T) {
	hsw := newHSW()
	hsw.Spec.Selector = &metav1.LabelSelector{}

	scheme := newTestScheme(t)
	require.NoError(t, appsv1.AddToScheme(scheme))
	require.NoError(t, corev1.AddToScheme(scheme))
	c := fake.NewClientBuilder().WithScheme(scheme).
		WithStatusSubresource(&appsv1alpha1.HotStandbyDeployment{}).
		WithObjects(hsw).Build()

	r := &Reconciler{
		Client:   c,
		Probes:   &fakeProber{},
		Recorder: events.NewRateLimitedRecorder(record.NewFakeRecorder(100)),
	}

	res, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}})
	require.NoError(t, err)
	assert.Equal(t, LongBackoffInterval, res.RequeueAfter)

	var got appsv1alpha1.HotStandbyDeployment
	require.NoError(t, r.Client.Get(context.Background(), types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}, &got))
	require.Len(t, got.Status.Conditions, 1)
	assert.Equal(t, appsv1alpha1.ConditionTypeInvalidSpec, got.Status.Conditions[0].Type)
}

func TestReconcileMissingHSWIsNoop(t *testing.T) {
	scheme := newTestScheme(t)
	require.NoError(t, appsv1.AddToScheme(scheme))
	require.NoError(t, corev1.AddToScheme(scheme))
	c := fake.NewClientBuilder().WithScheme(scheme).Build()

	r := &Reconciler{
		Client:   c,
		Probes:   &fakeProber{},
		Recorder: events.NewRateLimitedRecorder(record.NewFakeRecorder(100)),
	}

	res, err := r.Reconcile(context.Background(), reconcile.Request{NamespacedName: types.NamespacedName{Namespace: "default", Name: "missing"}})
	require.NoError(t, err)
	assert.Equal(t, reconcile.Result{}, res)
}

func podWithLabels(name string, labels map[string]string) corev1.Pod {
	return corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			Labels:    labels,
			UID:       types.UID(name + "-uid"),
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
}
