package accountvalkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStore(t *testing.T) {
	t.Run("creates store with prefix", func(t *testing.T) {
		store := newStore(nil, "test-prefix")
		assert.Equal(t, "test-prefix", store.prefix)
	})

	t.Run("trims trailing colon from prefix", func(t *testing.T) {
		store := newStore(nil, "test-prefix:")
		assert.Equal(t, "test-prefix", store.prefix)
	})

	t.Run("trims only last trailing colon", func(t *testing.T) {
		store := newStore(nil, "test:prefix:")
		assert.Equal(t, "test:prefix", store.prefix)
	})
}

func TestStoreKey(t *testing.T) {
	tests := []struct {
		prefix   string
		objectID string
		expected string
	}{
		{"prefix", "host-1", "prefix:account:host-1"},
		{"a:b", "host-2", "a:b:account:host-2"},
		{"", "host-3", "account:host-3"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			store := newStore(nil, tt.prefix)
			assert.Equal(t, tt.expected, store.key(objectTypeAccount, tt.objectID))
		})
	}
}

func TestStoreEncodeDecode(t *testing.T) {
	store := newStore(nil, "p")

	bytes, err := store.encode(map[string]string{"id": "acct_1"})
	assert.NoError(t, err)

	var got map[string]string
	assert.NoError(t, store.decode(bytes, &got))
	assert.Equal(t, "acct_1", got["id"])

	assert.Error(t, store.decode([]byte("{"), &got))
}
