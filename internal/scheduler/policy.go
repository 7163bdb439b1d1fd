package scheduler

import (
	"fmt"
	"strings"
)

// EndPolicy decides what happens when an agent runs out of posts.
type EndPolicy string

const (
	// PolicyAuto stops and asks for more content through OnNeedsContent.
	PolicyAuto EndPolicy = "AUTO"
	// PolicyLoop resets the cursor to the first post and keeps going.
	PolicyLoop EndPolicy = "LOOP"
	// PolicyStop stops the scheduler.
	PolicyStop EndPolicy = "STOP"
)

// ParseEndPolicy parses a policy name, case-insensitively.
func ParseEndPolicy(s string) (EndPolicy, error) {
	switch p := EndPolicy(strings.ToUpper(strings.TrimSpace(s))); p {
	case PolicyAuto, PolicyLoop, PolicyStop:
		return p, nil
	default:
		return "", fmt.Errorf("invalid end policy %q (want AUTO, LOOP or STOP)", s)
	}
}

// Valid reports whether p is a known policy.
func (p EndPolicy) Valid() bool {
	_, err := ParseEndPolicy(string(p))
	return err == nil
}
