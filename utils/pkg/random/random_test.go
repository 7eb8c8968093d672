package random

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestRandom_Range_Int(t *testing.T) {
	t.Parallel()
	src := NewSource(1)
	r := Range{Min: 3, Max: 5}
	seen := map[int]bool{}
	for range 500 {
		n := r.Int(src)
		require.GreaterOrEqual(t, n, 3)
		require.LessOrEqual(t, n, 5)
		seen[n] = true
	}
	require.Len(t, seen, 3)
	require.Equal(t, 7, Fixed(7).Int(src))
}

func TestRandom_Range_Seconds(t *testing.T) {
	t.Parallel()
	require.Equal(t, 4*time.Second, Fixed(4).Seconds(nil))
}

func TestRandom_Range_UnmarshalYAML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    Range
		wantErr bool
	}{
		{name: "pair", in: "v: [2, 9]", want: Range{Min: 2, Max: 9}},
		{name: "scalar", in: "v: 4", want: Range{Min: 4, Max: 4}},
		{name: "mapping", in: "v: {min: 1, max: 3}", want: Range{Min: 1, Max: 3}},
		{name: "inverted", in: "v: [9, 2]", wantErr: true},
		{name: "too long", in: "v: [1, 2, 3]", wantErr: true},
		{name: "negative", in: "v: [-1, 2]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out struct {
				V Range `yaml:"v"`
			}
			err := yaml.Unmarshal([]byte(tt.in), &out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, out.V)
		})
	}
}

func TestRandom_Shuffle_KeepsElements(t *testing.T) {
	t.Parallel()
	s := []int{1, 2, 3, 4, 5}
	Shuffle(NewSource(42), s)
	require.ElementsMatch(t, []int{1, 2, 3, 4, 5}, s)
}

func TestRandom_Float(t *testing.T) {
	t.Parallel()
	src := NewSource(3)
	for range 100 {
		f := Float(src, 0.5, 0.75)
		require.GreaterOrEqual(t, f, 0.5)
		require.LessOrEqual(t, f, 0.75)
	}
	require.Equal(t, 2.0, Float(src, 2, 1))
}
