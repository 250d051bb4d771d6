package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsInnerKind(t *testing.T) {
	inner := New(Quota, "limit reached for %d", 5)
	outer := Wrap(Transport, inner, "download failed")
	assert.Equal(t, Quota, KindOf(outer))
	assert.True(t, Rotates(outer))
	assert.False(t, Aborts(outer))
}

func TestWrapPlainError(t *testing.T) {
	err := Wrap(Catalog, errors.New("connection refused"), "failed to select topic")
	assert.True(t, Is(err, Catalog))
	assert.Contains(t, err.Error(), "catalog: failed to select topic: connection refused")
	assert.Nil(t, Wrap(Catalog, nil, "noop"))
}

func TestKindOfUnknown(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.False(t, Is(nil, Unknown))
	assert.True(t, Aborts(New(NoAccounts, "empty pool")))
	assert.Equal(t, "no_accounts", NoAccounts.String())
}
