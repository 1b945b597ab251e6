package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"styleforge/internal/model"
)

func testSession(id string) model.DesignSession {
	return model.DesignSession{
		ID:         id,
		StyleTheme: "Noir",
		Timestamp:  time.Now(),
		Architecture: []model.DesignComponent{
			{ID: "nav", Name: "Navigation", Description: "Top nav", Affordances: []string{"hover", "focus ring"}},
			{ID: "card", Name: "Card", Description: "Content card", Affordances: []string{"shadow"}},
		},
		Variations: []model.ComponentVariation{
			{ID: "v-nav", ComponentID: "nav", StyleName: "Noir", Status: model.StatusPending},
			{ID: "v-card", ComponentID: "card", StyleName: "Noir", Status: model.StatusPending},
		},
	}
}

func TestStore_AppendAndGetClones(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))

	got, ok := st.Get("s1")
	require.True(t, ok)
	got.Architecture[0].Affordances[0] = "mutated"
	got.Variations[0].HTML = "mutated"

	again, _ := st.Get("s1")
	require.Equal(t, "hover", again.Architecture[0].Affordances[0])
	require.Empty(t, again.Variations[0].HTML)
}

func TestStore_AppendRejectsDuplicateAndInvalid(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))
	require.Error(t, st.Append(testSession("s1")))

	bad := testSession("s2")
	bad.Variations[0].ComponentID = "missing"
	require.ErrorIs(t, st.Append(bad), model.ErrValidation)
}

func TestStore_UpdateIsTransactional(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))

	boom := errors.New("boom")
	err := st.Update("s1", func(sess *model.DesignSession) error {
		sess.StyleTheme = "changed"
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, _ := st.Get("s1")
	require.Equal(t, "Noir", got.StyleTheme, "failed update must not leak partial state")
}

func TestStore_UpdateRejectsInvariantBreak(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))

	err := st.Update("s1", func(sess *model.DesignSession) error {
		// Drop a module without cascading its variation.
		sess.Architecture = sess.Architecture[1:]
		return nil
	})
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestStore_DeleteModuleCascades(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))
	require.NoError(t, st.DeleteModule("s1", "nav"))

	got, _ := st.Get("s1")
	require.Len(t, got.Architecture, 1)
	for _, v := range got.Variations {
		require.NotEqual(t, "nav", v.ComponentID)
	}
	require.NoError(t, got.Validate())
}

func TestStore_UpdateVariation_MissingIsNoOp(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))
	require.NoError(t, st.DeleteModule("s1", "nav"))

	// A late streaming write for the deleted module's variation.
	ok := st.UpdateVariation("s1", "v-nav", func(v *model.ComponentVariation) {
		v.HTML = "<nav/>"
	})
	require.False(t, ok)

	got, _ := st.Get("s1")
	require.NoError(t, got.Validate())
}

func TestStore_AddModulePairsPendingVariation(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))

	comp, variation, err := st.AddModule("s1")
	require.NoError(t, err)
	require.Equal(t, comp.ID, variation.ComponentID)
	require.Equal(t, model.StatusPending, variation.Status)

	got, _ := st.Get("s1")
	require.Len(t, got.Architecture, 3)
	require.Len(t, got.Variations, 3)
	require.Equal(t, "Noir", got.Variations[2].StyleName)
}

func TestStore_ToggleAffordance(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))

	// Remove an existing tag, order of the rest preserved.
	require.NoError(t, st.ToggleAffordance("s1", "nav", "hover"))
	got, _ := st.Get("s1")
	require.Equal(t, []string{"focus ring"}, got.Architecture[0].Affordances)

	// Append a new tag at the end.
	require.NoError(t, st.ToggleAffordance("s1", "nav", "keyboard nav"))
	got, _ = st.Get("s1")
	require.Equal(t, []string{"focus ring", "keyboard nav"}, got.Architecture[0].Affordances)
}

func TestStore_SetAffordancesReplaces(t *testing.T) {
	st := NewStore()
	require.NoError(t, st.Append(testSession("s1")))
	require.NoError(t, st.SetAffordances("s1", "card", []string{"lift on hover", "border glow"}))
	got, _ := st.Get("s1")
	require.Equal(t, []string{"lift on hover", "border glow"}, got.Architecture[1].Affordances)
}

func TestStore_NotFound(t *testing.T) {
	st := NewStore()
	require.ErrorIs(t, st.Update("nope", func(*model.DesignSession) error { return nil }), ErrNotFound)
	_, ok := st.Get("nope")
	require.False(t, ok)
}
