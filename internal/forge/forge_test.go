package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/grepiku/grepiku/pkg/errors"
)

func TestBotAuthored(t *testing.T) {
	assert.True(t, BotAuthored("grepiku", "grepiku"))
	assert.True(t, BotAuthored("Grepiku", "grepiku"))
	assert.True(t, BotAuthored("grepiku[bot]", "grepiku"))
	assert.True(t, BotAuthored("grepiku", "grepiku[bot]"))
	assert.False(t, BotAuthored("someone", "grepiku"))
	assert.False(t, BotAuthored("grepiku", ""))
}

func TestErrorClassifiers(t *testing.T) {
	tooLarge := errors.New(errors.ErrCodeForgeTooLarge, "diff too large")
	perm := errors.New(errors.ErrCodeForgePermission, "cannot push")
	transport := errors.New(errors.ErrCodeForgeTransport, "boom")

	assert.True(t, IsTooLarge(tooLarge))
	assert.False(t, IsTooLarge(perm))
	assert.True(t, IsPermission(perm))
	assert.False(t, IsPermission(transport))
	assert.False(t, IsPermission(nil))
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("sourcehut", &Options{})
	assert.Error(t, err)
}
