package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsciify(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"Résumé", "Resume"},
		{"Straße", "Strasse"},
		{"Łódź", "Lodz"},
		{"Ærøskøbing", "AEroskobing"},
		{"São Tomé", "Sao Tome"},
		{"Þingvellir", "THingvellir"},
		{"é", "e"},
		{"日本", "日本"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Asciify(tc.in))
		})
	}
}

func TestScrub(t *testing.T) {
	assert.Equal(t, "united nations general assembly", Scrub("  United Nations -- General   Assembly. "))
	assert.Equal(t, "cote d ivoire", Scrub("Côte d'Ivoire"))
	assert.Equal(t, "", Scrub("!!!"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"run", "cat"}, Tokenize("Running CATS"))
	assert.Equal(t, []string{"resum"}, Tokenize("résumé"))
	assert.Empty(t, Tokenize("   ...  "))

	// Porter2 irregular forms; the original Porter rules give "dy" and "ski".
	assert.Equal(t, []string{"die", "sky"}, Tokenize("Dying skies"))
}

func TestWords(t *testing.T) {
	got := Words("cats cat Cats dogs")
	assert.Equal(t, []string{"cat", "dog"}, got)
}
