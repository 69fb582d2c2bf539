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

// Chunks splits n indexes in consecutive [from,to) ranges of at most size elements.
func Chunks(n, size int) [][2]int {
	if size <= 0 {
		size = n
	}
	var r [][2]int
	for from := 0; from < n; from += size {
		to := from + size
		if to > n {
			to = n
		}
		r = append(r, [2]int{from, to})
	}
	return r
}

// HasScheme reports whether address already starts with an http(s) scheme.
func HasScheme(address string) bool {
	return strings.HasPrefix(address, "http")
}
