package shared

import (
	"strings"
	"unicode/utf8"
)

// ═══════════════════════════════════════════════════════════════════════════
// UserID Value Object
// ═══════════════════════════════════════════════════════════════════════════

// UserID identifies the owner of a profile. It is issued by the external
// authentication system; the engine treats it as an opaque string.
type UserID string

// MaxUserIDLength bounds identifiers accepted from callers.
const MaxUserIDLength = 128

// IsValid checks the identifier is non-empty and bounded.
func (u UserID) IsValid() bool {
	return u != "" && len(u) <= MaxUserIDLength
}

// String returns the string representation.
func (u UserID) String() string {
	return string(u)
}

// NewUserID creates a UserID with validation.
func NewUserID(id string) (UserID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrEmptyUserID
	}
	if len(id) > MaxUserIDLength {
		return "", NewDomainError("shared", "NewUserID", ErrValueOutOfRange, "user id is too long")
	}
	return UserID(id), nil
}

// ═══════════════════════════════════════════════════════════════════════════
// XP Value Object (Experience Points)
// ═══════════════════════════════════════════════════════════════════════════

// XP represents experience points. One XP is one second of completed study,
// so the total only ever grows.
type XP int64

// Int64 returns the underlying value.
func (x XP) Int64() int64 {
	return int64(x)
}

// Add returns x plus seconds. Non-positive amounts leave x unchanged.
func (x XP) Add(seconds int64) XP {
	if seconds <= 0 {
		return x
	}
	return x + XP(seconds)
}

// ═══════════════════════════════════════════════════════════════════════════
// Level Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Level represents a user's level. The minimum is 1.
type Level int

// MinLevel is the level of a user with no XP.
const MinLevel Level = 1

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// DefaultSecondsPerLevel is one level per hour of cumulative study.
const DefaultSecondsPerLevel int64 = 3600

// LevelPolicy maps XP to a level: level = 1 + floor(xp / SecondsPerLevel).
type LevelPolicy struct {
	SecondsPerLevel int64
}

// DefaultLevelPolicy returns the hourly policy.
func DefaultLevelPolicy() LevelPolicy {
	return LevelPolicy{SecondsPerLevel: DefaultSecondsPerLevel}
}

// LevelFor returns the level implied by xp.
func (p LevelPolicy) LevelFor(xp XP) Level {
	per := p.SecondsPerLevel
	if per <= 0 {
		per = DefaultSecondsPerLevel
	}
	if xp <= 0 {
		return MinLevel
	}
	return MinLevel + Level(int64(xp)/per)
}

// XPForLevel returns the XP at which level l starts.
func (p LevelPolicy) XPForLevel(l Level) XP {
	per := p.SecondsPerLevel
	if per <= 0 {
		per = DefaultSecondsPerLevel
	}
	if l <= MinLevel {
		return 0
	}
	return XP(int64(l-MinLevel) * per)
}

// ═══════════════════════════════════════════════════════════════════════════
// Rank Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Rank is a 1-based leaderboard position.
type Rank int

// IsValid checks the rank is a real position.
func (r Rank) IsValid() bool {
	return r >= 1
}

// ═══════════════════════════════════════════════════════════════════════════
// Username Value Object
// ═══════════════════════════════════════════════════════════════════════════

// MaxUsernameLength bounds display names shown on leaderboards.
const MaxUsernameLength = 64

// NormalizeUsername trims and validates a display name.
func NormalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxUsernameLength {
		return "", ErrInvalidUsername
	}
	return name, nil
}
