package cache

import "context"

// Hash fields hold plain text values so HINCRBY can operate on them; the
// value codec is never applied to them.

// HashIncrement atomically adds amount to field of hash name.
func (c *Client) HashIncrement(ctx context.Context, name, field string, amount int64, opts ...CallOption) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, applyCallOptions(opts), name)
	if err != nil {
		return 0, err
	}
	return c.store.HIncrBy(qctx, k, field, amount)
}

// HashSet sets field of hash name to the text form of value (bytes,
// strings, numbers or bools).
func (c *Client) HashSet(ctx context.Context, name, field string, value any, opts ...CallOption) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	b, err := rawBytes(value)
	if err != nil {
		return 0, err
	}
	if b == nil {
		b = []byte{}
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, applyCallOptions(opts), name)
	if err != nil {
		return 0, err
	}
	return c.store.HSet(qctx, k, field, b)
}

// HashGetAll returns every field of hash name. A missing hash is empty.
func (c *Client) HashGetAll(ctx context.Context, name string, opts ...CallOption) (map[string]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, applyCallOptions(opts), name)
	if err != nil {
		return nil, err
	}
	m, err := c.store.HGetAll(qctx, k)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

// HashKeys returns the field names of hash name.
func (c *Client) HashKeys(ctx context.Context, name string, opts ...CallOption) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, applyCallOptions(opts), name)
	if err != nil {
		return nil, err
	}
	return c.store.HKeys(qctx, k)
}

// HashDelete removes fields from hash name and returns how many existed.
func (c *Client) HashDelete(ctx context.Context, name string, fields []string, opts ...CallOption) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	if len(fields) == 0 {
		return 0, nil
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, applyCallOptions(opts), name)
	if err != nil {
		return 0, err
	}
	return c.store.HDel(qctx, k, fields...)
}
