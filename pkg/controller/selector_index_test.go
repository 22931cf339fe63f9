package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
)

func mustSelector(t *testing.T, expr string) labels.Selector {
	t.Helper()
	sel, err := labels.Parse(expr)
	require.NoError(t, err)
	return sel
}

func TestSelectorIndexMatches(t *testing.T) {
	idx := newSelectorIndex()
	web := types.NamespacedName{Namespace: "default", Name: "web"}
	api := types.NamespacedName{Namespace: "default", Name: "api"}

	idx.put(web, mustSelector(t, "app=web"))
	idx.put(api, mustSelector(t, "app=api"))

	got := idx.matches("default", map[string]string{"app": "web"})
	assert.ElementsMatch(t, []types.NamespacedName{web}, got)

	assert.Empty(t, idx.matches("other-ns", map[string]string{"app": "web"}))
}

func TestSelectorIndexReportsEveryMatch(t *testing.T) {
	idx := newSelectorIndex()
	a := types.NamespacedName{Namespace: "default", Name: "a"}
	b := types.NamespacedName{Namespace: "default", Name: "b"}

	idx.put(a, mustSelector(t, "tier=frontend"))
	idx.put(b, mustSelector(t, "tier=frontend"))

	got := idx.matches("default", map[string]string{"tier": "frontend"})
	assert.ElementsMatch(t, []types.NamespacedName{a, b}, got)
}

func TestSelectorIndexRemove(t *testing.T) {
	idx := newSelectorIndex()
	web := types.NamespacedName{Namespace: "default", Name: "web"}
	idx.put(web, mustSelector(t, "app=web"))
	idx.remove(web)

	assert.Empty(t, idx.matches("default", map[string]string{"app": "web"}))
	assert.Empty(t, idx.byNS)
}
