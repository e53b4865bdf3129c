package qerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilPassthrough(t *testing.T) {
	assert.NoError(t, New(CodeRemote, nil))
}

func TestIsCode_Wrapped(t *testing.T) {
	base := errors.New("quota exceeded")
	err := fmt.Errorf("launching run abc: %w", New(CodeRemote, base))

	assert.True(t, IsCode(err, CodeRemote))
	assert.False(t, IsCode(err, CodeConfig))
	assert.ErrorIs(t, err, base)
}

func TestNewf(t *testing.T) {
	sentinel := errors.New("missing")
	err := Newf(CodeConfig, "resolving region for %q: %w", "loc", sentinel)

	require.Error(t, err)
	assert.Equal(t, CodeConfig, CodeOf(err))
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, `config: resolving region for "loc": missing`, err.Error())
}

func TestCodeOf_Plain(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.False(t, IsCode(nil, CodeUnknown))
}
