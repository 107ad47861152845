// Package ident generates short random identifiers.
package ident

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
)

// Hex returns an 8-character lowercase hex string (4 random bytes).
func Hex() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("ident: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

var adjectives = []string{
	"crimson", "silent", "bright", "swift", "golden",
	"amber", "azure", "bold", "calm", "dark",
	"deep", "eager", "faint", "gentle", "grand",
	"hazy", "icy", "jade", "keen", "lush",
	"misty", "noble", "pale", "quick", "rosy",
	"rusty", "sandy", "sharp", "shy", "slim",
	"soft", "stark", "steep", "still", "stout",
	"sunny", "tame", "tart", "tiny", "vast",
	"vivid", "warm", "weary", "wild", "wiry",
	"young", "dusty", "fresh", "mossy", "stormy",
}

var nouns = []string{
	"coral", "tide", "reef", "crab", "wave",
	"pearl", "shell", "kelp", "dune", "gull",
	"foam", "dock", "cove", "cape", "mast",
	"hull", "keel", "oar", "buoy", "knot",
	"sail", "helm", "wake", "surf", "sand",
	"cliff", "isle", "bay", "fin", "tern",
	"seal", "pike", "bass", "cod", "wren",
	"lark", "hare", "fawn", "moth", "newt",
	"fern", "moss", "bark", "root", "vine",
	"reed", "pond", "glen", "dale", "ridge",
}

// SessionID returns an adjective-noun-noun identifier such as
// "crimson-coral-tide". The two nouns are always distinct.
func SessionID() string {
	adj := pick(adjectives)
	first := pick(nouns)
	second := pick(nouns)
	for second == first {
		second = pick(nouns)
	}
	return strings.Join([]string{adj, first, second}, "-")
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		panic("ident: crypto/rand failed: " + err.Error())
	}
	return words[n.Int64()]
}
