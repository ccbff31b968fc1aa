package strtab

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternIdentity(t *testing.T) {
	tab := New()
	a := tab.InternString("hello")
	b := tab.InternString("hello")
	require.Equal(t, a, b, "equal bytes must intern to equal handles")

	c := tab.InternString("world")
	require.NotEqual(t, a, c)
}

func TestViewRoundTrip(t *testing.T) {
	tab := New()
	h := tab.InternString("translation_unit")
	require.Equal(t, "translation_unit", tab.ViewString(h))
}

func TestHandlesNeverInvalidateAcrossGrowth(t *testing.T) {
	tab := New()
	var handles []Handle
	var want []string
	for i := 0; i < 200000; i++ {
		s := randomish(i)
		want = append(want, s)
		handles = append(handles, tab.InternString(s))
	}
	for i, h := range handles {
		require.Equal(t, want[i], tab.ViewString(h))
	}
}

func randomish(i int) string {
	b := make([]byte, 1+i%40)
	for j := range b {
		b[j] = byte('a' + (i+j)%26)
	}
	return string(b)
}
