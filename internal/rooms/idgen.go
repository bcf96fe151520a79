package rooms

import (
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// Room codes are human-readable: four letters, a hyphen, four digits.
// I and O are excluded to avoid confusion with 1 and 0.
const (
	idLetters     = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	idDigits      = "0123456789"
	idLetterCount = 4
	idDigitCount  = 4
	maxIDAttempts = 1000
)

func randomRoomCode() string {
	var b strings.Builder
	b.Grow(idLetterCount + 1 + idDigitCount)
	for i := 0; i < idLetterCount; i++ {
		b.WriteByte(idLetters[rand.Intn(len(idLetters))])
	}
	b.WriteByte('-')
	for i := 0; i < idDigitCount; i++ {
		b.WriteByte(idDigits[rand.Intn(len(idDigits))])
	}
	return b.String()
}

// fallbackRoomCode is the last resort after maxIDAttempts collisions: a
// random 8-character code. Uniqueness is not re-verified here; the window is
// accepted for short-lived, low-value rooms.
func fallbackRoomCode() string {
	return strings.ToUpper(uuid.NewString()[:8])
}
