package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	c := NewCanonicalizer("972")

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"international with plus", "+972584003578", "972584003578"},
		{"international bare", "972584003578", "972584003578"},
		{"local leading zero", "0584003578", "972584003578"},
		{"bare subscriber", "584003578", "972584003578"},
		{"trunk zero kept after country code", "9720584003578", "972584003578"},
		{"formatted", "+972 58-400-3578", "972584003578"},
		{"foreign number left alone", "14155551234", "14155551234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Normalize(tt.raw))
		})
	}
}

// Every representation of the same subscriber must produce variant sets
// that contain each other's canonical form, so any stored shape matches
// any received shape.
func TestVariantsMutualLookup(t *testing.T) {
	c := NewCanonicalizer("972")

	forms := []string{"+972584003578", "972584003578", "0584003578", "584003578"}
	for _, form := range forms {
		vs := c.Variants(form)
		require.NotEmpty(t, vs)
		for _, other := range forms {
			assert.Contains(t, vs, c.Normalize(other),
				"variants of %q should cover canonical form of %q", form, other)
		}
	}
}

func TestVariantsContents(t *testing.T) {
	c := NewCanonicalizer("972")

	vs := c.Variants("0584003578")
	assert.Contains(t, vs, "0584003578")
	assert.Contains(t, vs, "972584003578")
	assert.Contains(t, vs, "+972584003578")
	assert.Contains(t, vs, "584003578")

	// Deduplicated and deterministic.
	assert.Equal(t, vs, c.Variants("0584003578"))
	seen := map[string]int{}
	for _, v := range vs {
		seen[v]++
		assert.Equal(t, 1, seen[v])
	}
}

func TestVariantsGracefulDegradation(t *testing.T) {
	c := NewCanonicalizer("972")

	// A number that matches no expected country pattern degrades to a
	// singleton set, not an error.
	assert.Equal(t, []string{"123456789012345"}, c.Variants("+1234567890-12345"))
	assert.Equal(t, []string{""}, c.Variants(""))
}
