package kinds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		kind int
		want Class
	}{
		{"metadata", 0, Replaceable},
		{"text note", 1, Regular},
		{"contact list", 3, Replaceable},
		{"direct message", 4, Regular},
		{"deletion", 5, Regular},
		{"regular range start", 1000, Regular},
		{"regular range end", 9999, Regular},
		{"replaceable range start", 10000, Replaceable},
		{"replaceable range end", 19999, Replaceable},
		{"ephemeral range start", 20000, Ephemeral},
		{"client auth", 22242, Ephemeral},
		{"ephemeral range end", 29999, Ephemeral},
		{"parameterized range start", 30000, ParameterizedReplaceable},
		{"parameterized range end", 39999, ParameterizedReplaceable},
		{"above every range", 40000, Regular},
		{"far above every range", 99999, Regular},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.kind))
		})
	}
}

// Every kind must land in exactly one class, with 0 and 3 always replaceable.
func TestClassifyTotality(t *testing.T) {
	for kind := -1000; kind <= 100000; kind++ {
		c := Classify(kind)
		assert.Contains(t, []Class{Regular, Replaceable, ParameterizedReplaceable, Ephemeral}, c, "kind %d", kind)
	}
	assert.Equal(t, Replaceable, Classify(0))
	assert.Equal(t, Replaceable, Classify(3))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "regular", Regular.String())
	assert.Equal(t, "replaceable", Replaceable.String())
	assert.Equal(t, "parameterized-replaceable", ParameterizedReplaceable.String())
	assert.Equal(t, "ephemeral", Ephemeral.String())
}
