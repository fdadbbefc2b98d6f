package cache

import (
	"context"
	"regexp"
	"strconv"

	"github.com/cockroachdb/errors"
)

var namespacePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateNamespace checks that namespace only uses letters, digits,
// underscores and dashes.
func ValidateNamespace(namespace string) error {
	if !namespacePattern.MatchString(namespace) {
		return errors.Wrapf(ErrInvalidNamespace, "namespace %q", namespace)
	}
	return nil
}

// NamespaceVersion returns the current version of namespace. found is false
// when the namespace has never been used or invalidated.
func (c *Client) NamespaceVersion(ctx context.Context, namespace string) (bool, int64, error) {
	if err := c.ready(); err != nil {
		return false, 0, err
	}
	if err := ValidateNamespace(namespace); err != nil {
		return false, 0, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.readVersion(qctx, namespace)
}

// InvalidateNamespace bumps the version of namespace so every key written
// under the previous version becomes unreachable. It returns the new
// version; a namespace that was never used goes to 1.
func (c *Client) InvalidateNamespace(ctx context.Context, namespace string) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	if err := ValidateNamespace(namespace); err != nil {
		return 0, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.store.IncrBy(qctx, c.versionKey(namespace), 1)
}

func (c *Client) readVersion(ctx context.Context, namespace string) (bool, int64, error) {
	vals, err := c.store.MGet(ctx, c.versionKey(namespace))
	if err != nil {
		return false, 0, err
	}
	if len(vals) == 0 || vals[0] == nil {
		return false, 0, nil
	}
	version, err := strconv.ParseInt(string(vals[0]), 10, 64)
	if err != nil {
		return false, 0, mark(errors.Wrapf(err, "cache: namespace %q version", namespace), ErrNotInteger)
	}
	return true, version, nil
}

// namespaceAndVersion returns "{namespace}:{version}", creating the version
// at 1 when the namespace is used for the first time.
func (c *Client) namespaceAndVersion(ctx context.Context, namespace string) (string, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return "", err
	}
	found, version, err := c.readVersion(ctx, namespace)
	if err != nil {
		return "", err
	}
	if !found {
		// losing the race is fine, the winner's value is read back below
		if _, err := c.store.SetNX(ctx, c.versionKey(namespace), []byte("1"), 0); err != nil {
			return "", err
		}
		if found, version, err = c.readVersion(ctx, namespace); err != nil {
			return "", err
		}
		if !found {
			version = 1
		}
	}
	return namespace + ":" + strconv.FormatInt(version, 10), nil
}
