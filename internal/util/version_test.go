package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.2.0", "1.2", 0},
		{"1.2", "1.2.0.0", 0},
		{"2.0.0", "1.9.9", 1},
		{"1.9.9", "2.0.0", -1},
		{"v1.0.1", "1.0.2", -1},
		{"v1.10.0", "v1.9.0", 1},
		{"1.0.0-beta", "1.0.0", 0},
		{"1.x.3", "1.0.3", 0},
		{"abc1234", "0.0.1", -1},
		{"", "0", 0},
		{"007.1", "7.1", 0},
		{"1.20240101123456789012", "1.20240101123456789011", 1},
		{"99999999999999999999.0", "100000000000000000000", -1},
		{"1.18446744073709551616", "1.9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b))
		})
	}
}

func TestCompareVersions_Reflexive(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"0", "1", "v2.3.4", "10.0.0.1", "garbage"} {
		assert.Equal(t, 0, CompareVersions(v, v), v)
	}
}

func TestCompareVersions_Antisymmetric(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{{"1.0.0", "1.0.1"}, {"v3", "2.99"}, {"0.1", "0.0.9"}}
	for _, p := range pairs {
		assert.Equal(t, -CompareVersions(p[0], p[1]), CompareVersions(p[1], p[0]))
	}
}
