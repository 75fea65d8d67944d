package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mdobak/go-xerrors"
)

// CategoriesKey is the custom metadata key holding the category names.
const CategoriesKey = "categories"

// SyntheticSize is the length of the placeholder table.
const SyntheticSize = 10000

// MaxCategoryIndex bounds the indices accepted in object-form metadata.
const MaxCategoryIndex = 10 * SyntheticSize

var ErrNoCategories = errors.New("model metadata has no category table")

// TableSource tells whether a CategoryTable came from the model or was made up.
type TableSource int

const (
	Loaded TableSource = iota
	Synthesized
)

func (s TableSource) String() string {
	if s == Synthesized {
		return "synthesized"
	}
	return "loaded"
}

// CategoryTable maps output class indices to names.
type CategoryTable struct {
	Names  []string
	Source TableSource
}

func (t CategoryTable) Len() int {
	return len(t.Names)
}

// Lookup returns the name at index i. Indices outside the table get a
// placeholder name instead of panicking.
func (t CategoryTable) Lookup(i int64) string {
	if i >= 0 && i < int64(len(t.Names)) {
		return t.Names[i]
	}
	return placeholderName(i)
}

func placeholderName(i int64) string {
	return "Named[" + strconv.FormatInt(i, 10) + "]"
}

// SyntheticCategories returns the placeholder table used when the model
// carries no usable category metadata.
func SyntheticCategories() CategoryTable {
	names := make([]string, SyntheticSize)
	for i := range names {
		names[i] = placeholderName(int64(i))
	}
	return CategoryTable{Names: names, Source: Synthesized}
}

// MetadataLookup reads one entry of a model's custom metadata map.
type MetadataLookup func(key string) (value string, ok bool, err error)

// CategoriesFromMetadata loads the category table from the model metadata.
// It always returns a usable table; the error explains why the synthetic
// table was substituted, if it was.
func CategoriesFromMetadata(lookup MetadataLookup) (CategoryTable, error) {
	raw, ok, err := lookup(CategoriesKey)
	if err != nil {
		return SyntheticCategories(), xerrors.Newf("read %s metadata: %w", CategoriesKey, err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return SyntheticCategories(), xerrors.New(ErrNoCategories)
	}
	names, err := ParseCategories(raw)
	if err != nil {
		return SyntheticCategories(), err
	}
	return CategoryTable{Names: names, Source: Loaded}, nil
}

// ParseCategories accepts either a JSON array of names or a JSON object
// keyed by decimal class index. Gaps in an object are filled with
// placeholder names. Repeated names are made unique by suffixing the
// index to every copy after the first, e.g. "crane" and "crane[517]".
func ParseCategories(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		if len(list) == 0 {
			return nil, xerrors.New(ErrNoCategories)
		}
		return uniqueNames(list), nil
	}

	var byIndex map[string]string
	if err := json.Unmarshal([]byte(raw), &byIndex); err != nil {
		return nil, xerrors.Newf("parse category metadata: %w", err)
	}
	if len(byIndex) == 0 {
		return nil, xerrors.New(ErrNoCategories)
	}

	indices := make([]int, 0, len(byIndex))
	names := make(map[int]string, len(byIndex))
	for k, v := range byIndex {
		i, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || i < 0 {
			return nil, xerrors.Newf("parse category metadata: bad index %q", k)
		}
		if i > MaxCategoryIndex {
			return nil, xerrors.Newf("parse category metadata: index %d exceeds %d", i, MaxCategoryIndex)
		}
		indices = append(indices, i)
		names[i] = v
	}
	sort.Ints(indices)

	out := make([]string, indices[len(indices)-1]+1)
	for i := range out {
		if name, ok := names[i]; ok {
			out[i] = name
		} else {
			out[i] = placeholderName(int64(i))
		}
	}
	return uniqueNames(out), nil
}

// uniqueNames renames repeated entries in place so every name maps to one
// index.
func uniqueNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if _, dup := seen[name]; dup {
			suffix := "[" + strconv.Itoa(i) + "]"
			for {
				name += suffix
				if _, taken := seen[name]; !taken {
					break
				}
			}
			names[i] = name
		}
		seen[name] = struct{}{}
	}
	return names
}

func (t CategoryTable) String() string {
	return fmt.Sprintf("%s table with %d categories", t.Source, len(t.Names))
}
