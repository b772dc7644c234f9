package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityTracker(t *testing.T) {
	t.Parallel()

	id := NewIdentityTracker("")

	_, ok := id.UserID()
	assert.False(t, ok)

	var seen []string
	unsub := id.OnChange(func(userID string) { seen = append(seen, userID) })

	id.SignIn("u1")
	id.SignIn("u1")
	id.SignIn("u2")
	id.SignOut()
	id.SignOut()

	assert.Equal(t, []string{"u1", "u2", ""}, seen)

	unsub()
	id.SignIn("u3")
	assert.Len(t, seen, 3)

	user, ok := id.UserID()
	assert.True(t, ok)
	assert.Equal(t, "u3", user)
}

func TestMutation_Normalize(t *testing.T) {
	t.Parallel()

	m, err := Mutation{Amount: 5}.normalize()
	assert.NoError(t, err)
	assert.Equal(t, TxEarn, m.Type)

	m, err = Mutation{Amount: -5}.normalize()
	assert.NoError(t, err)
	assert.Equal(t, TxSpend, m.Type)

	m, err = Mutation{Amount: 0}.normalize()
	assert.NoError(t, err)
	assert.Equal(t, TxSpend, m.Type)

	_, err = Mutation{Amount: 1, Extras: Extras{Kind: "coupon"}}.normalize()
	assert.ErrorIs(t, err, ErrInvalidMutation)

	assert.Equal(t, "g", GameRef("g").GameID())
	assert.Empty(t, GameRef("g").ReferralID())
	assert.Equal(t, "r", ReferralRef("r").ReferralID())
}
