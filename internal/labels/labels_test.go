package labels

import (
	"bytes"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
)

func TestParseLabelSet(t *testing.T) {
	tests := []struct {
		name  string
		field string
		want  LabelSet
		bad   string
	}{
		{"single", "5", LabelSet{5}, ""},
		{"several", "3 7 1", LabelSet{1, 3, 7}, ""},
		{"extra whitespace", "  2\t9  4 ", LabelSet{2, 4, 9}, ""},
		{"duplicates collapse", "4 4 1", LabelSet{1, 4}, ""},
		{"empty", "", LabelSet{}, ""},
		{"blank", "   ", LabelSet{}, ""},
		{"float token", "1 2.5", nil, "2.5"},
		{"word token", "cat", nil, "cat"},
		{"signed", "+4 -1", LabelSet{-1, 4}, ""},
		{"digit separator", "1_0", nil, "1_0"},
		{"non-ascii digits", "\u0663", nil, "\u0663"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tok, err := ParseLabelSet(tt.field)
			if tt.bad != "" {
				require.ErrorIs(t, err, strconv.ErrSyntax)
				assert.Equal(t, tt.bad, tok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLabelSetOutOfRange(t *testing.T) {
	_, tok, err := ParseLabelSet("1 99999999999999999999")
	require.ErrorIs(t, err, strconv.ErrRange)
	assert.Equal(t, "99999999999999999999", tok)
}

func TestParseColumnReportsLine(t *testing.T) {
	records := []dataset.Record{
		{Line: 2, Fields: []string{"0.jpg", "1 2", "a"}},
		{Line: 5, Fields: []string{"1.jpg", "3 x", "b"}},
	}

	_, err := ParseColumn(records, 1, "Labels")

	var lpe *dataset.LabelParseError
	require.ErrorAs(t, err, &lpe)
	assert.Equal(t, 5, lpe.Line)
	assert.Equal(t, "Labels", lpe.Column)
	assert.Equal(t, "x", lpe.Token)
	assert.Equal(t, dataset.ErrCodeLabelParse, dataset.CodeOf(err))
}

func TestFitAndTransform(t *testing.T) {
	train := []LabelSet{{1, 2}, {2, 3}}
	test := []LabelSet{{3, 4}}

	enc, trainM := FitTransform(train)
	assert.Equal(t, []int{1, 2, 3}, enc.Classes())

	if diff := cmp.Diff([][]uint8{{1, 1, 0}, {0, 1, 1}}, trainM.Dense()); diff != "" {
		t.Errorf("train matrix mismatch (-want +got):\n%s", diff)
	}

	testM := enc.Transform(test)
	assert.Equal(t, 3, testM.Cols())
	if diff := cmp.Diff([][]uint8{{0, 0, 1}}, testM.Dense()); diff != "" {
		t.Errorf("test matrix mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, testM.Unknown())
	assert.Equal(t, 0, trainM.Unknown())
}

func TestTransformOnlyUnknownLabels(t *testing.T) {
	enc := Fit([]LabelSet{{10}})
	m := enc.Transform([]LabelSet{{1, 2, 3}, {}})

	assert.Equal(t, [][]uint8{{0}, {0}}, m.Dense())
	assert.Equal(t, 3, m.Unknown())
}

func TestTransformIsRepeatable(t *testing.T) {
	enc := Fit([]LabelSet{{5, 1}, {9}})
	sets := []LabelSet{{1, 9}, {7}, {5}}

	first := enc.Transform(sets)
	second := enc.Transform(sets)
	assert.Equal(t, first.Dense(), second.Dense())
	assert.Equal(t, []int{1, 5, 9}, enc.Classes())
}

func TestFitEmptyTrain(t *testing.T) {
	enc := Fit(nil)
	assert.Equal(t, 0, enc.Len())
	assert.Equal(t, []int{}, enc.Classes())

	m := enc.Transform([]LabelSet{{1}, {2, 3}})
	assert.Equal(t, 2, m.Rows())
	assert.Equal(t, 0, m.Cols())
	assert.Equal(t, [][]uint8{{}, {}}, m.Dense())
}

func TestEncoderLookups(t *testing.T) {
	enc := Fit([]LabelSet{{4, 8}, {15}})

	id, ok := enc.Label(2)
	assert.True(t, ok)
	assert.Equal(t, 15, id)

	_, ok = enc.Label(3)
	assert.False(t, ok)

	col, ok := enc.Column(8)
	assert.True(t, ok)
	assert.Equal(t, 1, col)

	assert.Equal(t, LabelSet{4, 15}, enc.InverseTransform([]uint8{1, 0, 1}))
}

func TestEncoderJSONRoundTrip(t *testing.T) {
	enc := Fit([]LabelSet{{3, 1}, {19}})

	data, err := json.Marshal(enc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"classes":[1,3,19]}`, string(data))

	var restored Encoder
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, enc.Classes(), restored.Classes())

	col, ok := restored.Column(19)
	assert.True(t, ok)
	assert.Equal(t, 2, col)
}

func TestEncoderJSONRejectsUnsorted(t *testing.T) {
	var enc Encoder
	assert.Error(t, json.Unmarshal([]byte(`{"classes":[3,1]}`), &enc))
	assert.Error(t, json.Unmarshal([]byte(`{"classes":[1,1]}`), &enc))
}

func TestLabelCountsAndCSV(t *testing.T) {
	enc, m := FitTransform([]LabelSet{{1, 2}, {2}, {}})
	assert.Equal(t, []int{1, 2}, m.LabelCounts())

	var buf bytes.Buffer
	require.NoError(t, m.WriteCSV(&buf, enc))
	assert.Equal(t, "1,2\n1,1\n0,1\n0,0\n", buf.String())
}
