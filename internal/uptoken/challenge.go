package uptoken

import (
	"math/rand"
	"sync"
	"time"
)

var (
	challengeRandOnce sync.Once
	challengeRand     *rand.Rand
)

// seededRand lazily seeds a package-level source the first time a challenge
// byte is needed, mirroring the original's static srand_seeded guard: the
// seed only matters in that it must differ run to run, not that it be
// cryptographically unpredictable.
func seededRand() *rand.Rand {
	challengeRandOnce.Do(func() {
		challengeRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	})
	return challengeRand
}

// NewChallenge returns a single printable-ASCII challenge byte in
// [ChallengeMin, ChallengeMax].
func NewChallenge() byte {
	return byte(ChallengeMin + seededRand().Intn(ChallengeMax-ChallengeMin+1))
}

// EncodeChallenge renders a challenge byte as the wire token: "<T>\n".
func EncodeChallenge(token byte) []byte {
	return []byte{token, '\n'}
}

// IsValidChallenge reports whether b lies in the printable-ASCII challenge
// range.
func IsValidChallenge(b byte) bool {
	return b >= ChallengeMin && b <= ChallengeMax
}
