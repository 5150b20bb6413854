// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package chatkey derives the canonical identifier of a one-to-one
// conversation from its two participants.
package chatkey

import "strings"

// Separator never appears inside participant identifiers (UUIDs).
const Separator = "_"

// Derive returns the same key for (a, b) and (b, a).
func Derive(a, b string) string {
	a, b = Order(a, b)
	return a + Separator + b
}

// Order returns the pair in lexicographic order.
func Order(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Split recovers the ordered pair from a key produced by Derive.
func Split(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, Separator)
	if !ok || a == "" || b == "" || strings.Contains(b, Separator) {
		return "", "", false
	}
	return a, b, true
}

// Involves reports whether userID is one of the key's participants.
func Involves(key, userID string) bool {
	a, b, ok := Split(key)
	return ok && (a == userID || b == userID)
}
