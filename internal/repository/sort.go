package repository

import (
	"fmt"
	"sort"
	"strings"
)

// SortKey selects the listing order.
type SortKey string

const (
	SortByName SortKey = "name"
	SortByDate SortKey = "date"
)

// SortDirection selects ascending or descending order.
type SortDirection string

const (
	Ascending  SortDirection = "ascending"
	Descending SortDirection = "descending"
)

// ParseSort validates a key/direction pair.
func ParseSort(key, direction string) (SortKey, SortDirection, error) {
	k := SortKey(key)
	if k != SortByName && k != SortByDate {
		return "", "", fmt.Errorf("unknown sort key %q", key)
	}
	d := SortDirection(direction)
	if d != Ascending && d != Descending {
		return "", "", fmt.Errorf("unknown sort direction %q", direction)
	}
	return k, d, nil
}

// sortFiles orders files in place. Ties fall back to the name so the order
// is total and repeated listings are identical.
func sortFiles(files []FileRef, key SortKey, direction SortDirection) {
	less := func(a, b FileRef) bool {
		if key == SortByDate && !a.ModTime.Equal(b.ModTime) {
			return a.ModTime.Before(b.ModTime)
		}
		la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if la != lb {
			return la < lb
		}
		return a.Name < b.Name
	}
	sort.SliceStable(files, func(i, j int) bool {
		if direction == Ascending {
			return less(files[i], files[j])
		}
		return less(files[j], files[i])
	})
}
