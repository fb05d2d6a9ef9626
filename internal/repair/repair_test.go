package repair

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/goldfish-inc/oceanid/dataset-prep/internal/dataset"
)

func fieldsOf(ds *dataset.Dataset) [][]string {
	out := make([][]string, len(ds.Records))
	for i, rec := range ds.Records {
		out[i] = rec.Fields
	}
	return out
}

func TestRepairMixedRows(t *testing.T) {
	input := "id,Labels,Caption\n" +
		"1,\"3 7\",hello\n" +
		"2,1 2 3,\"a, b, c\"\n" +
		"3,5,oops,extra\n"

	var events []dataset.MalformedRowRecovered
	ds, stats, err := Repair(strings.NewReader(input), Options{
		Observer: func(ev dataset.MalformedRowRecovered) { events = append(events, ev) },
	})
	require.NoError(t, err)

	assert.Equal(t, dataset.Schema{"id", "Labels", "Caption"}, ds.Schema)
	assert.Equal(t, [][]string{
		{"1", "3 7", "hello"},
		{"2", "1 2 3", "a, b, c"},
		{"3", "5", "oops,extra"},
	}, fieldsOf(ds))

	assert.Equal(t, Stats{Rows: 3, Accepted: 2, Merged: 1}, stats)
	require.Len(t, events, 1)
	assert.Equal(t, dataset.MalformedRowRecovered{Line: 4, Fields: 4, Want: 3, Action: dataset.RepairMerged}, events[0])
	assert.True(t, ds.Records[2].Repaired)
	assert.False(t, ds.Records[0].Repaired)
}

func TestRepairArity(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   []string
		action dataset.RepairAction
	}{
		{"exact", "a,1,cap", []string{"a", "1", "cap"}, ""},
		{"one short", "a,1", []string{"a", "1", ""}, dataset.RepairPadded},
		{"only id", "a", []string{"a", "", ""}, dataset.RepairPadded},
		{"two extra", "a,1,x,y,z", []string{"a", "1", "x,y,z"}, dataset.RepairMerged},
		{"extra after quoted", `a,1,"x, y",z`, []string{"a", "1", "x, y,z"}, dataset.RepairMerged},
		{"empty trailing fields", "a,1,x,,", []string{"a", "1", "x,,"}, dataset.RepairMerged},
		{"leading space skipped", `a, "1 2", cap`, []string{"a", "1 2", "cap"}, ""},
		{"doubled quote", `a,1,"say ""hi"""`, []string{"a", "1", `say "hi"`}, ""},
		{"bare quote is literal", `a,1,5" screen`, []string{"a", "1", `5" screen`}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []dataset.RepairAction
			ds, _, err := Repair(strings.NewReader("ImageID,Labels,Caption\n"+tt.line+"\n"), Options{
				Observer: func(ev dataset.MalformedRowRecovered) { got = append(got, ev.Action) },
			})
			require.NoError(t, err)
			require.Len(t, ds.Records, 1)
			assert.Equal(t, tt.want, ds.Records[0].Fields)
			assert.Len(t, ds.Records[0].Fields, ds.Schema.Arity())
			if tt.action == "" {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, []dataset.RepairAction{tt.action}, got)
			}
		})
	}
}

func TestRepairPreservesOrderAndLines(t *testing.T) {
	input := "ImageID,Labels,Caption\n" +
		"0.jpg,1,a\n" +
		"1.jpg,2\n" +
		"2.jpg,3,\"multi\nline\"\n" +
		"3.jpg,4,b,c\n" +
		"4.jpg,5,d\n"

	ds, stats, err := Repair(strings.NewReader(input), Options{})
	require.NoError(t, err)

	ids := ds.Column(0)
	assert.Equal(t, []string{"0.jpg", "1.jpg", "2.jpg", "3.jpg", "4.jpg"}, ids)

	lines := make([]int, len(ds.Records))
	for i, rec := range ds.Records {
		lines[i] = rec.Line
	}
	assert.Equal(t, []int{2, 3, 4, 6, 7}, lines)
	assert.Equal(t, "multi\nline", ds.Records[2].Fields[2])
	assert.Equal(t, 2, stats.Repaired())
}

func TestRepairPadsBlankLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  [][]string
		lines []int
	}{
		{
			name:  "between records",
			input: "ImageID,Labels,Caption\n0.jpg,1,a\n\n1.jpg,2,b\n",
			want:  [][]string{{"0.jpg", "1", "a"}, {"", "", ""}, {"1.jpg", "2", "b"}},
			lines: []int{2, 3, 4},
		},
		{
			name:  "crlf and consecutive",
			input: "ImageID,Labels,Caption\r\n0.jpg,1,a\r\n\r\n\r\n1.jpg,2,b\r\n",
			want:  [][]string{{"0.jpg", "1", "a"}, {"", "", ""}, {"", "", ""}, {"1.jpg", "2", "b"}},
			lines: []int{2, 3, 4, 5},
		},
		{
			name:  "directly after header",
			input: "ImageID,Labels,Caption\n\n0.jpg,1,a\n",
			want:  [][]string{{"", "", ""}, {"0.jpg", "1", "a"}},
			lines: []int{2, 3},
		},
		{
			name:  "trailing",
			input: "ImageID,Labels,Caption\n0.jpg,1,a\n\n",
			want:  [][]string{{"0.jpg", "1", "a"}, {"", "", ""}},
			lines: []int{2, 3},
		},
		{
			name:  "inside quoted field",
			input: "ImageID,Labels,Caption\n0.jpg,1,\"first\n\nthird\"\n1.jpg,2,b\n",
			want:  [][]string{{"0.jpg", "1", "first\n\nthird"}, {"1.jpg", "2", "b"}},
			lines: []int{2, 5},
		},
		{
			name:  "quoted field then blank",
			input: "ImageID,Labels,Caption\n0.jpg,1,\"a\nb\"\n\n1.jpg,2,c",
			want:  [][]string{{"0.jpg", "1", "a\nb"}, {"", "", ""}, {"1.jpg", "2", "c"}},
			lines: []int{2, 4, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, _, err := Repair(strings.NewReader(tt.input), Options{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, fieldsOf(ds))

			lines := make([]int, len(ds.Records))
			for i, rec := range ds.Records {
				lines[i] = rec.Line
			}
			assert.Equal(t, tt.lines, lines)
		})
	}
}

func TestRepairBlankLineEvent(t *testing.T) {
	var events []dataset.MalformedRowRecovered
	ds, stats, err := Repair(strings.NewReader("ImageID,Labels,Caption\n0.jpg,1,a\n\n1.jpg,2,b\n"), Options{
		Observer: func(ev dataset.MalformedRowRecovered) { events = append(events, ev) },
	})
	require.NoError(t, err)

	assert.Equal(t, Stats{Rows: 3, Accepted: 2, Padded: 1}, stats)
	assert.Equal(t, []dataset.MalformedRowRecovered{{Line: 3, Fields: 0, Want: 3, Action: dataset.RepairPadded}}, events)
	assert.True(t, ds.Records[1].Repaired)
}

func TestRepairHeaderOnly(t *testing.T) {
	ds, stats, err := Repair(strings.NewReader("ImageID,Labels,Caption\n"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
	assert.Equal(t, 3, ds.Schema.Arity())
	assert.Zero(t, stats.Rows)
}

func TestRepairEmptySource(t *testing.T) {
	_, _, err := Repair(strings.NewReader(""), Options{})
	require.Error(t, err)

	var fe *dataset.FormatError
	require.ErrorAs(t, err, &fe)
	assert.ErrorIs(t, err, dataset.ErrEmptySource)
	assert.Equal(t, dataset.ErrCodeFormat, dataset.CodeOf(err))
}

func TestRepairInvalidUTF8(t *testing.T) {
	input := "ImageID,Labels,Caption\n0.jpg,1,ok\n1.jpg,2,bad\xff\n"
	_, _, err := Repair(strings.NewReader(input), Options{})

	var fe *dataset.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 3, fe.Line)
	assert.ErrorIs(t, err, dataset.ErrInvalidUTF8)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestRepairReadFailure(t *testing.T) {
	_, _, err := Repair(failingReader{}, Options{})
	assert.Equal(t, dataset.ErrCodeFormat, dataset.CodeOf(err))
	assert.Contains(t, err.Error(), "disk gone")
}

func TestRepairStripsBOMAndNormalizesHeader(t *testing.T) {
	input := "\ufeff ImageID , Labels,Caption\n0.jpg,1,x\n"
	ds, _, err := Repair(strings.NewReader(input), Options{})
	require.NoError(t, err)
	assert.Equal(t, dataset.Schema{"ImageID", "Labels", "Caption"}, ds.Schema)
	assert.Equal(t, 1, ds.Schema.Index("labels"))
}

func TestRepairDeterministic(t *testing.T) {
	input := "ImageID,Labels,Caption\n0.jpg,1,a,b\n1.jpg\n2.jpg,3,\"c, d\"\n"

	first, _, err := Repair(strings.NewReader(input), Options{})
	require.NoError(t, err)
	second, _, err := Repair(strings.NewReader(input), Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReadTSVJoinsWithTab(t *testing.T) {
	input := "ImageID\tLabels\tCaption\n0.jpg\t1 2\tleft\tright\n"
	ds, stats, err := Read(strings.NewReader(input), FormatTSV, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0.jpg", "1 2", "left\tright"}, ds.Records[0].Fields)
	assert.Equal(t, 1, stats.Merged)
}

func TestReadTSVKeepsEmptyFields(t *testing.T) {
	input := "ImageID\tLabels\tCaption\n0.jpg\t\tno labels\n"
	ds, stats, err := Read(strings.NewReader(input), FormatTSV, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0.jpg", "", "no labels"}, ds.Records[0].Fields)
	assert.Equal(t, 1, stats.Accepted)
}

func TestFormatFromName(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"train.csv", FormatCSV, false},
		{"s3://bucket/raw/TRAIN.CSV", FormatCSV, false},
		{"data.tsv", FormatTSV, false},
		{"sheet.xlsx", FormatXLSX, false},
		{"s3://bucket/raw/train", FormatCSV, false},
		{"https://host/v1.2/export", FormatCSV, false},
		{"archive.zip", "", true},
		{"data.json", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatFromName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, dataset.ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func workbook(t *testing.T, sheets map[string][][]interface{}, order []string) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cell, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			row := row
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestRepairXLSXSkipsMetadataSheet(t *testing.T) {
	buf := workbook(t, map[string][][]interface{}{
		"About": {{"generated by exporter"}},
		"Data": {
			{"ImageID", "Labels", "Caption"},
			{"0.jpg", "1 2", "a dog"},
			{"1.jpg", "3"},
			{"2.jpg", "4", "left", "right"},
		},
	}, []string{"About", "Data"})

	ds, stats, err := Read(buf, FormatXLSX, Options{})
	require.NoError(t, err)

	assert.Equal(t, dataset.Schema{"ImageID", "Labels", "Caption"}, ds.Schema)
	assert.Equal(t, [][]string{
		{"0.jpg", "1 2", "a dog"},
		{"1.jpg", "3", ""},
		{"2.jpg", "4", "left,right"},
	}, fieldsOf(ds))
	assert.Equal(t, Stats{Rows: 3, Accepted: 1, Merged: 1, Padded: 1}, stats)
	assert.Equal(t, 4, ds.Records[2].Line)
}

func TestRepairXLSXRejectsGarbage(t *testing.T) {
	_, _, err := RepairXLSX(strings.NewReader("not a zip"), Options{})
	assert.Equal(t, dataset.ErrCodeFormat, dataset.CodeOf(err))
}

func TestDataSheet(t *testing.T) {
	assert.Equal(t, "Rows", dataSheet([]string{"README", "Rows"}))
	assert.Equal(t, "notes", dataSheet([]string{"info", "notes"}))
	assert.Equal(t, "", dataSheet(nil))
}
