package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	appsv1alpha1 "github.com/taro0513/HotStandbyDeployment/pkg/apis/apps/v1alpha1"
)

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, appsv1alpha1.AddToScheme(scheme))
	return scheme
}

func TestUpsertConditionSetsTransitionTimeOnlyOnStatusChange(t *testing.T) {
	var conds []metav1.Condition
	conds = upsertCondition(conds, metav1.Condition{Type: "Ready", Status: metav1.ConditionTrue, Reason: "Reconciled"})
	require.Len(t, conds, 1)
	first := conds[0].LastTransitionTime

	conds = upsertCondition(conds, metav1.Condition{Type: "Ready", Status: metav1.ConditionTrue, Reason: "Reconciled"})
	assert.Equal(t, first, conds[0].LastTransitionTime, "unchanged status must not bump LastTransitionTime")

	conds = upsertCondition(conds, metav1.Condition{Type: "Ready", Status: metav1.ConditionFalse, Reason: "InvalidSpec"})
	assert.NotEqual(t, first, conds[0].LastTransitionTime, "changed status must bump LastTransitionTime")
}

func TestUpdateStatusSkipsRedundantWrite(t *testing.T) {
	hsw := newHSW()
	hsw.Status = appsv1alpha1.HotStandbyDeploymentStatus{BusyCount: 1, IdleCount: 2, DesiredReplicas: 3}

	c := fake.NewClientBuilder().WithScheme(newTestScheme(t)).WithObjects(hsw).WithStatusSubresource(hsw).Build()
	key := types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}

	var before appsv1alpha1.HotStandbyDeployment
	require.NoError(t, c.Get(context.Background(), key, &before))

	err := updateStatus(context.Background(), c, key, hsw.Status)
	require.NoError(t, err)

	var got appsv1alpha1.HotStandbyDeployment
	require.NoError(t, c.Get(context.Background(), key, &got))
	assert.Equal(t, hsw.Status.BusyCount, got.Status.BusyCount)
	assert.Equal(t, before.ResourceVersion, got.ResourceVersion, "an unchanged status must not be written")
}

func TestUpdateStatusWritesWhenChanged(t *testing.T) {
	hsw := newHSW()
	c := fake.NewClientBuilder().WithScheme(newTestScheme(t)).WithObjects(hsw).WithStatusSubresource(hsw).Build()
	key := types.NamespacedName{Namespace: hsw.Namespace, Name: hsw.Name}

	next := desiredStatus(hsw.Status, 2, 1, 4, 1, appsv1alpha1.ConditionTypeReady, metav1.ConditionTrue, "Reconciled", "busy=2 idle=1 desired=4")
	require.NoError(t, updateStatus(context.Background(), c, key, next))

	var got appsv1alpha1.HotStandbyDeployment
	require.NoError(t, c.Get(context.Background(), key, &got))
	assert.EqualValues(t, 4, got.Status.DesiredReplicas)
	require.Len(t, got.Status.Conditions, 1)
	assert.Equal(t, appsv1alpha1.ConditionTypeReady, got.Status.Conditions[0].Type)
}

func TestUpdateStatusOnDeletedHSWIsNoop(t *testing.T) {
	c := fake.NewClientBuilder().WithScheme(newTestScheme(t)).Build()
	key := types.NamespacedName{Namespace: "default", Name: "missing"}
	assert.NoError(t, updateStatus(context.Background(), c, key, appsv1alpha1.HotStandbyDeploymentStatus{}))
}
