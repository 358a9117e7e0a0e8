package reputation

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/JushBJJ/Wormhole/internal/model"
)

const (
	ShortWindow     = 5 * time.Minute
	MediumWindow    = 24 * time.Hour
	LongWindow      = 30 * 24 * time.Hour
	ShortThreshold  = 10
	MediumThreshold = 50
	LongThreshold   = 500

	shortWeight  = 0.6
	mediumWeight = 0.1
	longWeight   = 0.05

	// Accounts a year or older get the full age discount.
	maturityAge     = 365 * 24 * time.Hour
	maxAgeReduction = 0.8
)

// Challenge hashes content ‖ nonce ‖ identityHash and reports whether the
// hex digest carries at least ceil(difficulty) leading zeros.
func Challenge(content string, nonce uint64, identityHash string, difficulty float64) (string, bool) {
	sum := sha256.Sum256([]byte(content + strconv.FormatUint(nonce, 10) + identityHash))
	digest := hex.EncodeToString(sum[:])
	return digest, strings.HasPrefix(digest, strings.Repeat("0", RequiredZeros(difficulty)))
}

func RequiredZeros(difficulty float64) int {
	if difficulty <= 0 {
		return 0
	}
	return int(math.Ceil(difficulty))
}

// Difficulty is a pure function of the windowed counts, account age and penalty.
func Difficulty(shortCount, mediumCount, longCount int, accountAge time.Duration, penalty float64) float64 {
	shortFactor := math.Pow(float64(shortCount)/ShortThreshold, 2)
	mediumFactor := math.Sqrt(float64(mediumCount) / MediumThreshold)
	longFactor := math.Log2(float64(longCount)/LongThreshold + 1)

	raw := 1.0 * (shortWeight*shortFactor + mediumWeight*mediumFactor + longWeight*longFactor)

	if accountAge < 0 {
		accountAge = 0
	}
	timeReduction := math.Min(float64(accountAge)/float64(maturityAge), 1) * maxAgeReduction
	decayed := raw * (1 - timeReduction)

	return decayed + math.Max(penalty, 0)
}

// CountWindows counts history entries inside each trailing window ending at now.
func CountWindows(history []model.HistoryEntry, now time.Time) (shortCount, mediumCount, longCount int) {
	for _, h := range history {
		age := now.Sub(h.At)
		if age < 0 {
			age = 0
		}
		if age <= ShortWindow {
			shortCount++
		}
		if age <= MediumWindow {
			mediumCount++
		}
		if age <= LongWindow {
			longCount++
		}
	}
	return shortCount, mediumCount, longCount
}

// PruneHistory drops entries older than the longest window.
func PruneHistory(history []model.HistoryEntry, now time.Time) []model.HistoryEntry {
	kept := history[:0]
	for _, h := range history {
		if now.Sub(h.At) <= LongWindow {
			kept = append(kept, h)
		}
	}
	return kept
}
