package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCSV_ParsesHeaderAndRows(t *testing.T) {
	input := "email,name\nalice@example.com,Alice\nbob@example.com,Bob\n"

	header, rows, err := loadCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, header)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice@example.com", rows[0]["email"])
	assert.Equal(t, "Bob", rows[1]["name"])
}

func TestLoadCSV_StripsUTF8BOM(t *testing.T) {
	input := "\xEF\xBB\xBFemail\nalice@example.com\n"
	header, rows, err := loadCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "email", header[0])
	assert.Equal(t, "alice@example.com", rows[0]["email"])
}

func TestLoadCSV_EmptyInputReturnsNoRows(t *testing.T) {
	header, rows, err := loadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Nil(t, rows)
}

func TestLoadCSV_FallsBackToLatin1ForNonUTF8Bytes(t *testing.T) {
	// 0xE9 is "é" in Latin-1 but invalid standalone UTF-8.
	input := []byte("email,name\nuser@example.com,Caf\xE9\n")
	header, rows, err := loadCSV(strings.NewReader(string(input)))
	require.NoError(t, err)
	assert.Equal(t, []string{"email", "name"}, header)
	assert.Equal(t, "Café", rows[0]["name"])
}

func TestEmailColumn_MatchesCaseInsensitively(t *testing.T) {
	assert.Equal(t, "Email", emailColumn([]string{"Name", "Email"}))
	assert.Equal(t, "", emailColumn([]string{"Name", "Phone"}))
}
