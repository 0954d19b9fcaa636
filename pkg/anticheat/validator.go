// Package anticheat implements a plausibility gate for game states received
// from the local client or from LAN peers.
//
// It only rejects states that are statistically implausible. It does not
// prove a state was produced by honest play, and it is no substitute for
// authoritative server-side simulation in multiplayer.
package anticheat

import (
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/whatislife/savekeeper/pkg/apperr"
)

const (
	fieldWallet        = "wallet"
	fieldBank          = "bank"
	fieldLevel         = "profile.level"
	fieldXP            = "profile.xp"
	fieldTotalEarnings = "profile.totalEarnings"
)

// Rules are the inclusive ranges a plausible state must fall in.
type Rules struct {
	MinLevel         int64
	MaxLevel         int64
	MaxXP            int64
	MaxTotalEarnings int64
}

func DefaultRules() Rules {
	return Rules{
		MinLevel:         1,
		MaxLevel:         100,
		MaxXP:            1_000_000,
		MaxTotalEarnings: 10_000_000,
	}
}

// Verdict is the result of checking a well-formed document.
// Violation names the first rule that failed and is empty when Valid.
type Verdict struct {
	Valid     bool
	Violation string
}

type Validator struct {
	rules Rules
}

func NewValidator(rules Rules) *Validator {
	return &Validator{rules: rules}
}

// Validate reports whether doc is a plausible game state. A document that
// cannot be read, or lacks an integer wallet, bank, profile.level or
// profile.xp, is an error rather than false.
func (v *Validator) Validate(doc []byte) (bool, error) {
	verdict, err := v.Check(doc)
	if err != nil {
		return false, err
	}
	return verdict.Valid, nil
}

// Check is Validate with the name of the violated rule.
func (v *Validator) Check(doc []byte) (Verdict, error) {
	if !gjson.ValidBytes(doc) {
		return Verdict{}, apperr.Errorf(apperr.KindMalformedInput, "anticheat.validate", "invalid game state JSON")
	}
	root := gjson.ParseBytes(doc)
	if !root.IsObject() {
		return Verdict{}, apperr.Errorf(apperr.KindMalformedInput, "anticheat.validate", "game state is not an object")
	}
	// A repeated key at any depth makes the document ambiguous.
	if key, ok := duplicateKey(root); ok {
		return Verdict{}, apperr.Errorf(apperr.KindMalformedInput, "anticheat.validate", "duplicate key %q in game state", key)
	}

	// All required fields are read before any range rule runs.
	wallet, err := requiredInt(root, fieldWallet)
	if err != nil {
		return Verdict{}, err
	}
	bank, err := requiredInt(root, fieldBank)
	if err != nil {
		return Verdict{}, err
	}
	level, err := requiredInt(root, fieldLevel)
	if err != nil {
		return Verdict{}, err
	}
	xp, err := requiredInt(root, fieldXP)
	if err != nil {
		return Verdict{}, err
	}
	totalEarnings, ok := intField(root, fieldTotalEarnings)
	if !ok {
		totalEarnings = 0
	}

	switch {
	case wallet < 0 || bank < 0:
		return Verdict{Violation: "negative money"}, nil
	case level < v.rules.MinLevel || level > v.rules.MaxLevel:
		return Verdict{Violation: "level out of range"}, nil
	case xp < 0 || xp > v.rules.MaxXP:
		return Verdict{Violation: "xp out of range"}, nil
	case totalEarnings < 0 || totalEarnings > v.rules.MaxTotalEarnings:
		return Verdict{Violation: "total earnings out of range"}, nil
	}
	return Verdict{Valid: true}, nil
}

// duplicateKey walks every object and array under r and returns the first
// key repeated within one object.
func duplicateKey(r gjson.Result) (string, bool) {
	var dup string
	found := false
	switch {
	case r.IsObject():
		seen := make(map[string]struct{})
		r.ForEach(func(key, value gjson.Result) bool {
			if _, ok := seen[key.String()]; ok {
				dup, found = key.String(), true
				return false
			}
			seen[key.String()] = struct{}{}
			dup, found = duplicateKey(value)
			return !found
		})
	case r.IsArray():
		r.ForEach(func(_, value gjson.Result) bool {
			dup, found = duplicateKey(value)
			return !found
		})
	}
	return dup, found
}

func requiredInt(root gjson.Result, path string) (int64, error) {
	n, ok := intField(root, path)
	if !ok {
		return 0, apperr.Errorf(apperr.KindMalformedInput, "anticheat.validate", "invalid %s value", path)
	}
	return n, nil
}

// intField reads path as a JSON integer that fits in int64. Fractions and
// exponents do not count as integers.
func intField(root gjson.Result, path string) (int64, bool) {
	r := root.Get(path)
	if r.Type != gjson.Number {
		return 0, false
	}
	n, err := strconv.ParseInt(r.Raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
