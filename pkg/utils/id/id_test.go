package id

import (
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a := New("pay")
	b := New("pay")
	assert.True(t, strings.HasPrefix(a, "pay_"))
	assert.Len(t, a, len("pay_")+26)
	assert.NotEqual(t, a, b)
}

func TestReference(t *testing.T) {
	ref := Reference("TXN")
	assert.Regexp(t, regexp.MustCompile(`^TXN-\d{4}[0-9A-Z]{4}$`), ref)
}

func TestToken(t *testing.T) {
	_, err := uuid.Parse(Token())
	require.NoError(t, err)
}
