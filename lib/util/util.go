// Package util contains helper functions used around the code.
package util

import "strings"

// In returns true if s is found in ss, false otherwise
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// InInt returns true if n is found in ns, false otherwise
func InInt(ns []int, n int) bool {
	for _, v := range ns {
		if n == v {
			return true
		}
	}
	return false
}

// LowerAddr returns the canonical (lowercase) form of a hex address. Addresses
// are compared case-insensitively everywhere, so they are stored lowercase.
func LowerAddr(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

// SameAddr compares two hex addresses case-insensitively.
func SameAddr(a, b string) bool {
	return LowerAddr(a) == LowerAddr(b)
}
