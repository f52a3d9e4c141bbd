package hotword

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    Entry
		ok      bool
		wantErr bool
	}{
		{line: "", ok: false},
		{line: "   ", ok: false},
		{line: "hello", want: Entry{Text: "hello", Weight: 20}, ok: true},
		{line: "hello 5", want: Entry{Text: "hello", Weight: 5}, ok: true},
		{line: "  new   york  -3 ", want: Entry{Text: "new york", Weight: -3}, ok: true},
		{line: "new york", want: Entry{Text: "new york", Weight: 20}, ok: true},
		{line: "pi 3.14", wantErr: true},
		{line: "big 99999999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok, err := ParseLine(tt.line, 20)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNewTable_FirstEntryWins(t *testing.T) {
	table := NewTable([]Entry{{Text: "a", Weight: 1}, {Text: "b", Weight: 2}, {Text: "a", Weight: 9}})
	require.Equal(t, 2, table.Len())
	w, ok := table.Weight("a")
	require.True(t, ok)
	require.Equal(t, int32(1), w)
	require.Equal(t, []Entry{{Text: "a", Weight: 1}, {Text: "b", Weight: 2}}, table.Entries())
}

func TestMap_ReturnsCopy(t *testing.T) {
	table := NewTable([]Entry{{Text: "a", Weight: 1}})
	m := table.Map()
	m["a"] = 100
	w, _ := table.Weight("a")
	require.Equal(t, int32(1), w)
}

func TestMerge_OverrideWins(t *testing.T) {
	base := NewTable([]Entry{{Text: "a", Weight: 1}, {Text: "b", Weight: 2}})
	merged := base.Merge(NewTable([]Entry{{Text: "b", Weight: 5}, {Text: "c", Weight: 3}}))
	require.Equal(t, map[string]int32{"a": 1, "b": 5, "c": 3}, merged.Map())
	require.Equal(t, 2, base.Len())
}

func TestNilTable(t *testing.T) {
	var table *Table
	require.Equal(t, 0, table.Len())
	_, ok := table.Weight("a")
	require.False(t, ok)
	require.Empty(t, table.Map())
}
