package rt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply_NothingRequested(t *testing.T) {
	assert.NoError(t, Apply(Settings{}))
}
