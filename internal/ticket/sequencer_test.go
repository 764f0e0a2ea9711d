package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	assert.Equal(t, "LAB", Code("laboratory"))
	assert.Equal(t, "EME", Code("emergency"))
	assert.Equal(t, "ER", Code("er"))
	assert.Equal(t, "RAD", Code("  Radiology "))
}

func TestNumber(t *testing.T) {
	cases := []struct {
		issued int64
		want   string
	}{
		{0, "LAB-001"},
		{1, "LAB-002"},
		{98, "LAB-099"},
		{998, "LAB-999"},
		{999, "LAB-1000"},
		{12344, "LAB-12345"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Number("LAB", tc.issued))
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "LAB-001", Normalize(" lab-001 "))
}
