// Package naming generates human-friendly agent identities and recovers
// previously used ones from request history.
package naming

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/BaSui01/cueflow/store"
)

const (
	onsets = "bcdfghjklmnpqrstvwxz"
	vowels = "aeiou"

	minLen = 8
	maxLen = 12
)

var codas = []string{"", "n", "r", "l", "s", "m", "nd", "st", "rk", "ld"}

func syllable() string {
	return string(onsets[rand.IntN(len(onsets))]) + string(vowels[rand.IntN(len(vowels))]) + codas[rand.IntN(len(codas))]
}

// Generate returns a pronounceable lowercase identity such as "tavilron"
// or "nemosand": 3-5 consonant-vowel(-coda) syllables clamped to 8-12
// characters.
func Generate() string {
	for i := 0; i < 100; i++ {
		var b strings.Builder
		for n := 3 + rand.IntN(3); n > 0; n-- {
			b.WriteString(syllable())
		}
		s := b.String()
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		if len(s) >= minLen {
			return s
		}
	}
	// Statistically unreachable; three syllables of at least two
	// characters retried a hundred times always land in range.
	return "agent" + fmt.Sprintf("%03d", rand.IntN(1000))
}

// Recall tries to recover a previously used agent identity from request
// history: the newest request whose prompt contains the hints wins. When
// nothing matches, a fresh identity is generated and found is false.
func Recall(ctx context.Context, s store.Store, hints string) (agentID string, found bool, err error) {
	matches, err := s.SearchRequests(ctx, hints, 1)
	if err != nil {
		return "", false, fmt.Errorf("failed to search request history: %w", err)
	}
	if len(matches) > 0 {
		return matches[0].AgentID, true, nil
	}
	return Generate(), false, nil
}
