package rooms

import (
	"regexp"
	"strings"
	"testing"
)

func TestRandomRoomCodeFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := randomRoomCode()
		if !roomCodePattern.MatchString(code) {
			t.Fatalf("code %q does not match LLLL-DDDD format", code)
		}
		if strings.ContainsAny(code, "IO") {
			t.Fatalf("code %q contains an ambiguous letter", code)
		}
	}
}

func TestFallbackRoomCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9A-F]{8}$`)
	for i := 0; i < 20; i++ {
		code := fallbackRoomCode()
		if !pattern.MatchString(code) {
			t.Fatalf("fallback code %q is not 8 uppercase hex chars", code)
		}
	}
}
