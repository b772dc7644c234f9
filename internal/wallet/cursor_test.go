package wallet

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageOf(n int) Page {
	p := Page{}
	for i := 0; i < n; i++ {
		p.Transactions = append(p.Transactions, Transaction{ID: fmt.Sprintf("t%d", i)})
	}

	return p
}

func TestCursor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		page     Page
		size     int
		wantNext string
		wantOK   bool
	}{
		{name: "zero_value_has_nothing", page: Page{}, size: 3},
		{name: "full_page_has_more", page: pageOf(3), size: 3, wantNext: "t2", wantOK: true},
		{name: "short_page_is_last", page: pageOf(2), size: 3, wantNext: "t1"},
		{name: "empty_page", page: pageOf(0), size: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var c Cursor
			if tt.name != "zero_value_has_nothing" {
				c.Reset(tt.page, tt.size)
			}

			next, ok := c.Next()
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantNext != "" {
				assert.Equal(t, tt.wantNext, next)
			}
		})
	}
}

func TestCursor_ResetChangesGeneration(t *testing.T) {
	t.Parallel()

	var c Cursor
	c.Reset(pageOf(2), 2)
	gen := c.gen

	c.Advance(pageOf(2), 2)
	assert.Equal(t, gen, c.gen, "advance keeps generation")

	c.Reset(pageOf(1), 2)
	assert.NotEqual(t, gen, c.gen)
	assert.False(t, c.HasMore())
}

func TestCursor_Rewind(t *testing.T) {
	t.Parallel()

	var c Cursor
	c.Reset(pageOf(1), 2)
	require.False(t, c.HasMore())
	gen := c.gen

	c.Rewind("r-7")
	before, ok := c.Next()
	assert.True(t, ok)
	assert.Equal(t, "r-7", before)
	assert.NotEqual(t, gen, c.gen)

	c.Rewind("")
	assert.False(t, c.HasMore())
}
