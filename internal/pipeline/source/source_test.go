package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "matching-client/internal/common/errors"
	"matching-client/internal/models"
)

func readAll(t *testing.T, r *Reader) []models.RawRow {
	t.Helper()
	var rows []models.RawRow
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestReader_HeaderlessVariableWidth(t *testing.T) {
	input := "a,b,c\n1,2\nx,y,z,w\n"
	rows := readAll(t, NewReader(strings.NewReader(input)))

	require.Len(t, rows, 3)
	assert.Equal(t, models.RawRow{"a", "b", "c"}, rows[0])
	assert.Equal(t, models.RawRow{"1", "2"}, rows[1])
	assert.Equal(t, models.RawRow{"x", "y", "z", "w"}, rows[2])
}

func TestReader_BackslashEscapes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  models.RawRow
	}{
		{"escaped quote", `1,"say \"hi\"",3` + "\n", models.RawRow{"1", `say "hi"`, "3"}},
		{"escaped backslash", `"a\\b",c` + "\n", models.RawRow{`a\b`, "c"}},
		{"escaped ordinary char", `"\x",c` + "\n", models.RawRow{"x", "c"}},
		{"doubled quote still works", `"a""b",c` + "\n", models.RawRow{`a"b`, "c"}},
		{"backslash outside quotes is literal", `C:\tmp,c` + "\n", models.RawRow{`C:\tmp`, "c"}},
		{"quoted comma and newline", "\"a,b\nc\",d\n", models.RawRow{"a,b\nc", "d"}},
		{"empty fields", ",,\n", models.RawRow{"", "", ""}},
		{"bare quotes in unquoted field", `0,t,s,r,4,5,6,7,He said "hi" today` + "\n",
			models.RawRow{"0", "t", "s", "r", "4", "5", "6", "7", `He said "hi" today`}},
		{"text after closing quote", `"quoted"tail,x` + "\n", models.RawRow{"quotedtail", "x"}},
		{"text after closing quote ends line", `x,"quoted"tail` + "\n", models.RawRow{"x", "quotedtail"}},
		{"quote in trailing text", `"a"b"c,d` + "\n", models.RawRow{`ab"c`, "d"}},
		{"closing quote at eof", `a,"b"`, models.RawRow{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := readAll(t, NewReader(strings.NewReader(tt.input)))
			require.Len(t, rows, 1)
			assert.Equal(t, tt.want, rows[0])
		})
	}
}

func TestReader_StrayQuotesDoNotAbort(t *testing.T) {
	input := "1,He said \"hi\",x\n2,\"ok\"ish,y\n3,plain,z\n"
	rows := readAll(t, NewReader(strings.NewReader(input)))

	require.Len(t, rows, 3)
	assert.Equal(t, models.RawRow{"1", `He said "hi"`, "x"}, rows[0])
	assert.Equal(t, models.RawRow{"2", "okish", "y"}, rows[1])
	assert.Equal(t, models.RawRow{"3", "plain", "z"}, rows[2])
}

func TestReader_MalformedRecord(t *testing.T) {
	r := NewReader(io.MultiReader(
		strings.NewReader("ok,row\n"),
		iotest.ErrReader(errors.New("device read failed")),
	))

	_, err := r.Read()
	require.NoError(t, err)

	_, err = r.Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedRecord))
	assert.Equal(t, int64(1), r.Rows())
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("0,t,s,r\n"), 0o644))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	rows := readAll(t, r)
	assert.Equal(t, []models.RawRow{{"0", "t", "s", "r"}}, rows)

	_, err = Open(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
