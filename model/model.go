package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// Level is the reservation/publication level of a catalogue.
type Level string

const (
	LevelMinor Level = "MINOR"
	LevelMajor Level = "MAJOR"
)

// Environment selects which DCF instance a request is sent to.
type Environment string

const (
	EnvironmentProduction Environment = "PRODUCTION"
	EnvironmentTest       Environment = "TEST"
)

// ParseEnvironment accepts the environment names case-insensitively. "prod" and "" are tolerated.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PRODUCTION", "PROD":
		return EnvironmentProduction, nil
	case "TEST", "":
		return EnvironmentTest, nil
	}
	return "", fmt.Errorf("unknown environment %q", s)
}

// Version is a catalogue version: public major.minor plus the internal counter.
type Version struct {
	Major    int `json:"major"`
	Minor    int `json:"minor"`
	Internal int `json:"internal"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Internal)
}

// IsZero reports whether v is the zero version.
func (v Version) IsZero() bool {
	return v == Version{}
}

// NextInternal returns the version a new internal (working) copy gets.
func (v Version) NextInternal() Version {
	return Version{Major: v.Major, Minor: v.Minor, Internal: v.Internal + 1}
}

func (v Version) NextMinor() Version {
	return Version{Major: v.Major, Minor: v.Minor + 1}
}

func (v Version) NextMajor() Version {
	return Version{Major: v.Major + 1}
}

// Next returns the version published at the given level.
func (v Version) Next(level Level) Version {
	if level == LevelMajor {
		return v.NextMajor()
	}
	return v.NextMinor()
}

// Compare returns -1, 0 or 1 when v is lower, equal or higher than o.
func (v Version) Compare(o Version) int {
	for _, d := range [3]int{v.Major - o.Major, v.Minor - o.Minor, v.Internal - o.Internal} {
		if d < 0 {
			return -1
		}
		if d > 0 {
			return 1
		}
	}
	return 0
}

// ParseVersion parses "1", "1.2" and "1.2.3", with or without a leading "v".
func ParseVersion(s string) (Version, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "v"), "V")
	if raw == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	parts := strings.Split(raw, ".")
	if len(parts) > 3 {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q", s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Internal: nums[2]}, nil
}
