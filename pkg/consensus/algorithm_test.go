package consensus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredVotes(t *testing.T) {
	cases := []struct {
		alg   Algorithm
		total int
		want  int
	}{
		{SimpleMajority, 1, 1},
		{SimpleMajority, 2, 2},
		{SimpleMajority, 3, 2},
		{SimpleMajority, 4, 3},
		{SimpleMajority, 10, 6},
		{SuperMajority, 3, 3},
		{SuperMajority, 4, 3},
		{SuperMajority, 10, 7},
		{Byzantine, 10, 7},
		{Byzantine, 4, 3},
		{Unanimous, 1, 1},
		{Unanimous, 10, 10},
		{Quorum(0.75), 10, 8},
		{Quorum(0.5), 10, 5},
		{Quorum(0.51), 10, 6},
		{Quorum(0.1), 3, 1},
		{Quorum(1.0), 7, 7},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/n=%d", tc.alg, tc.total), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.alg.RequiredVotes(tc.total))
		})
	}
}

func TestRequiredVotesNeverExceedsTotal(t *testing.T) {
	algorithms := []Algorithm{SimpleMajority, SuperMajority, Byzantine, Unanimous, Quorum(0.9)}
	for n := 1; n <= 50; n++ {
		for _, alg := range algorithms {
			required := alg.RequiredVotes(n)
			assert.GreaterOrEqual(t, required, 1, "%s with n=%d", alg, n)
			assert.LessOrEqual(t, required, n, "%s with n=%d", alg, n)
		}
	}
}

func TestParseAlgorithm(t *testing.T) {
	cases := map[string]Algorithm{
		"simple-majority": SimpleMajority,
		"super-majority":  SuperMajority,
		"byzantine":       Byzantine,
		"unanimous":       Unanimous,
		"":                SimpleMajority,
	}
	for name, want := range cases {
		got, err := ParseAlgorithm(name, 0)
		require.NoError(t, err, "name %q", name)
		assert.Equal(t, want, got)
	}

	quorum, err := ParseAlgorithm("quorum", 0.75)
	require.NoError(t, err)
	assert.Equal(t, 8, quorum.RequiredVotes(10))

	_, err = ParseAlgorithm("quorum", 0)
	assert.Error(t, err)
	_, err = ParseAlgorithm("quorum", 1.5)
	assert.Error(t, err)
	_, err = ParseAlgorithm("raft", 0)
	assert.Error(t, err)
}
