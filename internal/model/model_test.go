package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelWeight(t *testing.T) {
	for _, w := range Weights() {
		got, err := ParseModelWeight(w.String())
		require.NoError(t, err)
		assert.Equal(t, w, got)
		assert.NotEmpty(t, w.FileName())
	}

	got, err := ParseModelWeight(" MobileNetV3-Small ")
	require.NoError(t, err)
	assert.Equal(t, MobileNetV3Small, got)

	_, err = ParseModelWeight("vgg16")
	assert.ErrorIs(t, err, ErrUnknownWeight)
	assert.Equal(t, "unknown", ModelWeight(42).String())
}

func TestParseDeviceClass(t *testing.T) {
	for _, d := range []DeviceClass{DeviceDefault, DeviceAndroid, DeviceIOS, DeviceMacOS, DeviceWindows} {
		got, err := ParseDeviceClass(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := ParseDeviceClass("playstation")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	_, err = ParseDeviceClass("auto")
	assert.NoError(t, err)
}

func TestDetectDevice(t *testing.T) {
	assert.Equal(t, DeviceAndroid, DetectDevice("android"))
	assert.Equal(t, DeviceIOS, DetectDevice("ios"))
	assert.Equal(t, DeviceMacOS, DetectDevice("darwin"))
	assert.Equal(t, DeviceWindows, DetectDevice("windows"))
	assert.Equal(t, DeviceDefault, DetectDevice("linux"))
}

func lookupFrom(values map[string]string, err error) MetadataLookup {
	return func(key string) (string, bool, error) {
		if err != nil {
			return "", false, err
		}
		v, ok := values[key]
		return v, ok, nil
	}
}

func TestCategoriesFromMetadata(t *testing.T) {
	table, err := CategoriesFromMetadata(lookupFrom(map[string]string{
		CategoriesKey: `["tench", "goldfish", "great white shark"]`,
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, Loaded, table.Source)
	assert.Equal(t, []string{"tench", "goldfish", "great white shark"}, table.Names)
}

func TestCategoriesFallback(t *testing.T) {
	cases := map[string]MetadataLookup{
		"missing":   lookupFrom(map[string]string{}, nil),
		"blank":     lookupFrom(map[string]string{CategoriesKey: "  "}, nil),
		"malformed": lookupFrom(map[string]string{CategoriesKey: "{not json"}, nil),
		"empty":     lookupFrom(map[string]string{CategoriesKey: "[]"}, nil),
		"error":     lookupFrom(nil, errors.New("metadata unavailable")),
	}
	for name, lookup := range cases {
		t.Run(name, func(t *testing.T) {
			table, err := CategoriesFromMetadata(lookup)
			assert.Error(t, err)
			assert.Equal(t, Synthesized, table.Source)
			require.Equal(t, SyntheticSize, table.Len())
			assert.Equal(t, "Named[0]", table.Names[0])
			assert.Equal(t, "Named[9999]", table.Names[9999])
		})
	}
}

func TestParseCategoriesObject(t *testing.T) {
	names, err := ParseCategories(`{"0": "cat", "2": "dog"}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "Named[1]", "dog"}, names)

	_, err = ParseCategories(`{"x": "cat"}`)
	assert.Error(t, err)
	_, err = ParseCategories(`{"-1": "cat"}`)
	assert.Error(t, err)
}

func TestParseCategoriesDuplicateNames(t *testing.T) {
	names, err := ParseCategories(`{"134": "crane", "517": "crane", "638": "maillot", "639": "maillot"}`)
	require.NoError(t, err)
	require.Len(t, names, 640)
	assert.Equal(t, "crane", names[134])
	assert.Equal(t, "crane[517]", names[517])
	assert.Equal(t, "maillot", names[638])
	assert.Equal(t, "maillot[639]", names[639])

	names, err = ParseCategories(`["a", "a", "a[1]", "b"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a[1]", "a[1][2]", "b"}, names)

	seen := make(map[string]bool)
	for _, n := range names {
		assert.False(t, seen[n], n)
		seen[n] = true
	}
}

func TestParseCategoriesBoundsIndex(t *testing.T) {
	_, err := ParseCategories(`{"2000000000": "x"}`)
	require.Error(t, err)

	table, err := CategoriesFromMetadata(lookupFrom(map[string]string{
		CategoriesKey: `{"2000000000": "x"}`,
	}, nil))
	assert.Error(t, err)
	assert.Equal(t, Synthesized, table.Source)
	assert.Equal(t, SyntheticSize, table.Len())

	names, err := ParseCategories(`{"100000": "last"}`)
	require.NoError(t, err)
	assert.Len(t, names, MaxCategoryIndex+1)
}

func TestLookupNeverPanics(t *testing.T) {
	table := CategoryTable{Names: []string{"a", "b"}}
	assert.Equal(t, "b", table.Lookup(1))
	assert.Equal(t, "Named[2]", table.Lookup(2))
	assert.Equal(t, "Named[-1]", table.Lookup(-1))
}

func TestResultMapSorted(t *testing.T) {
	m := ResultMap{"b": 0.2, "a": 0.2, "c": 0.9}

	sorted := m.Sorted()
	assert.Equal(t, []Prediction{{"c", 0.9}, {"a", 0.2}, {"b", 0.2}}, sorted)

	top, ok := m.Top()
	assert.True(t, ok)
	assert.Equal(t, "c", top.Class)

	_, ok = ResultMap{}.Top()
	assert.False(t, ok)

	resp := NewPredictionResponse("req-1", m)
	assert.Equal(t, "c", resp.Class)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Len(t, resp.Predictions, 3)
}
