package phonetic

import "testing"

func TestCorrector_SnapsNearMisses(t *testing.T) {
	t.Parallel()
	c := NewCorrector([]string{"Postgres", "Grafana", "mynah"})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single word", "restart postgras now", "restart Postgres now"},
		{"keeps leading capital", "Postgras is down", "Postgres is down"},
		{"all caps survives", "POSTGRAS IS DOWN", "POSTGRES IS DOWN"},
		{"trailing punctuation", "check gravana, please", "check Grafana, please"},
		{"exact hit untouched", "Postgres is fine", "Postgres is fine"},
		{"no candidates", "nothing matches here", "nothing matches here"},
		{"lowercase keyword stays lowercase", "ask minah about it", "ask mynah about it"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Correct(tt.in); got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCorrector_DistanceCeiling(t *testing.T) {
	t.Parallel()
	// "kite" and "cat" share a Double Metaphone code (KT) but are three
	// edits apart, which is past the ceiling.
	c := NewCorrector([]string{"kite"})
	if got := c.Correct("the cat sat"); got != "the cat sat" {
		t.Errorf("Correct = %q, want input unchanged", got)
	}
}

func TestCorrector_PrefersSmallerEditDistance(t *testing.T) {
	t.Parallel()
	// Both keywords encode to KRT; "cart" is one edit from "kart", "cord"
	// is two, so "cart" wins.
	c := NewCorrector([]string{"cord", "cart"})
	if got := c.Correct("a kart race"); got != "a cart race" {
		t.Errorf("Correct = %q, want %q", got, "a cart race")
	}
}

func TestCorrector_EmptyKeywords(t *testing.T) {
	t.Parallel()
	c := NewCorrector(nil)
	in := "anything   at all"
	if got := c.Correct(in); got != in {
		t.Errorf("Correct = %q, want identity with no keywords", got)
	}
}
