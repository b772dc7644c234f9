package wallet

// Cursor tracks where the next older page starts.
type Cursor struct {
	before  string
	hasMore bool
	// gen changes on every Reset so a page fetched against an older head can
	// be recognised and discarded.
	gen uint64
}

// Reset points the cursor just past a freshly delivered head page.
func (c *Cursor) Reset(page Page, pageSize int) {
	c.gen++
	c.set(page, pageSize)
}

// Advance moves the cursor past an appended older page.
func (c *Cursor) Advance(page Page, pageSize int) {
	c.set(page, pageSize)
}

func (c *Cursor) set(page Page, pageSize int) {
	c.hasMore = len(page.Transactions) == pageSize
	if len(page.Transactions) > 0 {
		c.before = page.Transactions[len(page.Transactions)-1].ID
	} else {
		c.before = ""
	}
	if c.before == "" {
		c.hasMore = false
	}
}

// Rewind restarts paging before the given entry. Pages in flight against the
// old position are discarded.
func (c *Cursor) Rewind(before string) {
	c.gen++
	c.before = before
	c.hasMore = before != ""
}

// Next returns the cursor to fetch with, or false when there is nothing more
// to fetch.
func (c Cursor) Next() (string, bool) {
	return c.before, c.hasMore && c.before != ""
}

func (c Cursor) HasMore() bool {
	_, ok := c.Next()
	return ok
}
