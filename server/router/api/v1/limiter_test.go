package v1

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalLimiter(t *testing.T) {
	l := newPrincipalLimiter(2)

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"))
}

func TestPrincipalLimiter_Disabled(t *testing.T) {
	l := newPrincipalLimiter(0)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("alice"))
	}
}

func TestPrincipalLimiter_ResetsWhenFull(t *testing.T) {
	l := newPrincipalLimiter(1)
	for i := 0; i < maxTrackedPrincipals; i++ {
		l.Allow(fmt.Sprintf("p%d", i))
	}
	assert.Len(t, l.limiters, maxTrackedPrincipals)

	l.Allow("overflow")
	assert.Len(t, l.limiters, 1)
}
