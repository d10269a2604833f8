package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServicePort(t *testing.T) {
	port, err := servicePort("http://localhost:8001")
	require.NoError(t, err)
	assert.Equal(t, "8001", port)
}

func TestServicePort_MissingPort(t *testing.T) {
	_, err := servicePort("http://localhost")
	assert.Error(t, err)

	_, err = servicePort("localhost")
	assert.Error(t, err)
}
