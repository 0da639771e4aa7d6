package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestLogger(t *testing.T) {
	assert.NotNil(t, Logger())
	// repeated calls hand out the same instance
	assert.Same(t, Logger(), Logger())
}

func TestReplace(t *testing.T) {
	nop := zap.NewNop()
	Replace(nop)
	assert.Same(t, nop, Logger())
}
