package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher_Validation(t *testing.T) {
	_, err := NewPublisher(nil, "enforce.consent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brokers")

	_, err = NewPublisher([]string{"localhost:9092"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic")
}

func TestNewPublisher_DoesNotDialEagerly(t *testing.T) {
	p, err := NewPublisher([]string{"127.0.0.1:1"}, "enforce.consent")
	require.NoError(t, err)
	assert.Equal(t, "enforce.consent", p.Topic())
	p.client.Close()
}
