package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitIdentifierArgs(t *testing.T) {
	ip, endpoint, apiKey := splitIdentifierArgs([]string{"1.2.3.4"})
	assert.Equal(t, "1.2.3.4", ip)
	assert.Empty(t, endpoint)
	assert.Empty(t, apiKey)

	ip, endpoint, apiKey = splitIdentifierArgs([]string{"1.2.3.4", "/ingest"})
	assert.Equal(t, "/ingest", endpoint)
	assert.Empty(t, apiKey)

	ip, endpoint, apiKey = splitIdentifierArgs([]string{"1.2.3.4", "/ingest", "key123"})
	assert.Equal(t, "1.2.3.4", ip)
	assert.Equal(t, "/ingest", endpoint)
	assert.Equal(t, "key123", apiKey)
}
