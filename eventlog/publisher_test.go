package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicName(t *testing.T) {
	assert.Equal(t, "src-1.shop.customers", TopicName("src-1", "shop", "customers"))
}

func TestRegistry(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "kafka")
	assert.Contains(t, names, "nats")

	_, err := New("bogus", Options{})
	require.Error(t, err)
}

func TestRegisterCustomFactory(t *testing.T) {
	Register("custom", func(opts Options) (Publisher, error) {
		return nil, nil
	})
	p, err := New("custom", Options{})
	require.NoError(t, err)
	assert.Nil(t, p)
}
