package scope_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/tracefang/pkg/scope"
)

const (
	varX = "x"
	varY = "y"

	tagInt = "int"
	tagStr = "str"
)

func TestEnterExitReturnsOriginal(t *testing.T) {
	t.Parallel()

	root := scope.New()
	child := root.Enter()

	assert.Same(t, root, child.Exit())
}

func TestExitOnRootReturnsRoot(t *testing.T) {
	t.Parallel()

	root := scope.New()

	assert.Same(t, root, root.Exit())
}

func TestScopeIDsMonotonicallyIncrease(t *testing.T) {
	t.Parallel()

	root := scope.New()
	child := root.Enter()
	grandchild := child.Enter()

	assert.Less(t, root.ID(), child.ID())
	assert.Less(t, child.ID(), grandchild.ID())
}

func TestLookupWalksParentChain(t *testing.T) {
	t.Parallel()

	root := scope.New()
	root.Add(varX, "1", tagInt, 10)

	child := root.Enter()

	v, ok := child.Lookup(varX)
	require.True(t, ok)
	assert.Equal(t, "1", v.Value)
	assert.Equal(t, 10, v.ID)
}

func TestInnerBindingShadowsOuter(t *testing.T) {
	t.Parallel()

	root := scope.New()
	root.Add(varX, "outer", tagStr, 1)

	child := root.Enter()
	child.Add(varX, "inner", tagStr, 2)

	value, ok := child.Value(varX)
	require.True(t, ok)
	assert.Equal(t, "inner", value)

	// The outer binding is untouched.
	outer, ok := root.Value(varX)
	require.True(t, ok)
	assert.Equal(t, "outer", outer)
}

func TestValueAbsent(t *testing.T) {
	t.Parallel()

	root := scope.New()

	_, ok := root.Value(varX)
	assert.False(t, ok)
	assert.False(t, root.Contains(varX))
}

func TestAllVarsShadowingPreserved(t *testing.T) {
	t.Parallel()

	root := scope.New()
	root.Add(varX, "outer", tagStr, 1)
	root.Add(varY, "2", tagInt, 2)

	child := root.Enter()
	child.Add(varX, "inner", tagStr, 3)

	all := child.AllVars()
	require.Len(t, all, 2)

	byName := make(map[string]scope.Var, len(all))
	for _, v := range all {
		byName[v.Name] = v
	}

	assert.Equal(t, "inner", byName[varX].Value)
	assert.Equal(t, "2", byName[varY].Value)
}

func TestAddOverwritesCurrentNodeOnly(t *testing.T) {
	t.Parallel()

	root := scope.New()
	root.Add(varX, "1", tagInt, 1)
	root.Add(varX, "2", tagInt, 1)

	value, ok := root.Value(varX)
	require.True(t, ok)
	assert.Equal(t, "2", value)
}
