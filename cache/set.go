package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

func encodeMembers(co callOptions, members []any) ([][]byte, error) {
	out := make([][]byte, 0, len(members))
	for _, m := range members {
		b, err := encodeValue(co, m)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, errors.Wrap(ErrUnsupportedType, "collections cannot hold nil members")
		}
		out = append(out, b)
	}
	return out, nil
}

// SetAdd adds members to the set name and returns how many were new. When
// expire > 0 the expiry is re-applied to the whole set on every call, so
// members cannot expire individually.
func (c *Client) SetAdd(ctx context.Context, name string, members []any, expire time.Duration, opts ...CallOption) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	co := applyCallOptions(opts)
	encoded, err := encodeMembers(co, members)
	if err != nil {
		return 0, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, co, name)
	if err != nil {
		return 0, err
	}
	return c.store.SAdd(qctx, k, encoded, expire)
}

// SetMembers returns the members of the set name in no particular order.
// With Raw the stored bytes are returned.
func (c *Client) SetMembers(ctx context.Context, name string, opts ...CallOption) ([]any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	co := applyCallOptions(opts)
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, co, name)
	if err != nil {
		return nil, err
	}
	raw, err := c.store.SMembers(qctx, k)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(raw))
	for _, b := range raw {
		v, err := decodeValue(co, b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ListPush appends values to the tail of list name and returns its new
// length.
func (c *Client) ListPush(ctx context.Context, name string, values []any, opts ...CallOption) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	co := applyCallOptions(opts)
	encoded, err := encodeMembers(co, values)
	if err != nil {
		return 0, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, co, name)
	if err != nil {
		return 0, err
	}
	return c.store.RPush(qctx, k, encoded...)
}
