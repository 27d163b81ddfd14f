package protect

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reverse(b []byte) ([]byte, error) {
	out := bytes.Clone(b)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func TestLockedNeverActive(t *testing.T) {
	var s Session = Locked{}
	assert.False(t, s.IsActive())

	_, err := s.DecryptTitle("x")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	assert.False(t, m.IsActive())

	_, err := m.DecryptTitle("eltit")
	require.ErrorIs(t, err, ErrNoSession)

	m.Start(DecrypterFunc(reverse))
	assert.True(t, m.IsActive())

	title, err := m.DecryptTitle("eltit")
	require.NoError(t, err)
	assert.Equal(t, "title", title)

	m.End()
	assert.False(t, m.IsActive())
}

func TestManagerNotifiesOnChange(t *testing.T) {
	m := NewManager()
	var seen []bool
	m.OnChange(func() { seen = append(seen, m.IsActive()) })

	m.Start(DecrypterFunc(reverse))
	m.End()
	assert.Equal(t, []bool{true, false}, seen)
}
