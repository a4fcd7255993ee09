package update

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"v1.0.0", "1.0.0", 0},
		{"1.2.0", "1.1.0", 1},
		{"1.0.0", "2.0.0", -1},
		{"1.2.3", "1.2.2", 1},
		{"1.2.3.4", "1.2.3.3", 1},
		{"1.2", "1.2.0", 0},
		{"1.2", "1.2.0.0", 0},
		{"1.10.0", "1.9.0", 1},
		{"v2", "1.99.99", 1},
		{"1.x.0", "1.0.0", 0},
		{"1.-1", "1.0", 0},
		{"", "0.0.0", 0},
		{"", "0.0.1", -1},
		{"vv1.0", "0.0", 0},
		{"1.007", "1.7", 0},
		{"1.18446744073709551616", "1.1", 1},
		{"1.18446744073709551616", "1.18446744073709551615", 1},
		{"99999999999999999999999", "99999999999999999999999.0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b))
		})
	}
}

func TestCompareVersions_Antisymmetric(t *testing.T) {
	versions := []string{"0", "1", "1.0", "v1.0.1", "1.2.3", "1.2.3.4", "2.0", "v10.0.0", "1.2.x", "3..1", "1.18446744073709551616", "1.0018446744073709551615"}

	for _, a := range versions {
		assert.Equal(t, 0, CompareVersions(a, a), "compare(%q, %q)", a, a)
		for _, b := range versions {
			assert.Equal(t, -CompareVersions(b, a), CompareVersions(a, b), "compare(%q, %q)", a, b)
		}
	}
}

func TestIsNewer(t *testing.T) {
	assert.True(t, IsNewer("1.0.1", "1.0.0"))
	assert.False(t, IsNewer("1.0.0", "v1.0.0"))
	assert.False(t, IsNewer("0.9", "1.0"))
}
