/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"strings"
)

const (
	// Default separator widths
	DefaultWidth = 80
	WideWidth    = 100
)

// PrintSeparator prints a separator line with the specified character and width
func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	fmt.Println()
	PrintSeparator("=", width)
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	fmt.Println()
	PrintSeparator("=", width)
	fmt.Println(message)
	PrintSeparator("=", width)
	fmt.Println()
}

// PrintVenueHeader opens a box-drawn section for one venue
func PrintVenueHeader(id, name string, accounts int, width int) {
	if name == "" {
		name = id
	}
	fmt.Printf("\n┌─ Venue: %s (%s)\n", name, id)
	fmt.Printf("│  Accounts: %d\n", accounts)
	fmt.Println("├" + strings.Repeat("─", width-2))
}

// BoxPrefix returns the appropriate box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// FormatPoints renders a points amount with thousands separators
func FormatPoints(points int64) string {
	sign := ""
	if points < 0 {
		sign = "-"
		points = -points
	}
	digits := fmt.Sprintf("%d", points)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + " pts"
}

// ShortId truncates long identifiers for table output
func ShortId(id string) string {
	if id == "" {
		return "none"
	}
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}
