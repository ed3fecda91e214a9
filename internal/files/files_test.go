package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveStatement(t *testing.T) {
	dir := t.TempDir()

	path, err := SaveStatement(dir, "itau", "extrato_itau.pdf", []byte("%PDF-1.4 test"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(path), "itau_"))
	assert.True(t, strings.HasSuffix(path, ".pdf"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 test"), data)
}

func TestSaveReceipt(t *testing.T) {
	dir := t.TempDir()

	path, err := SaveReceipt(dir, "img (1).jpg", []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)

	assert.Contains(t, path, filepath.Join(dir, "comprovantes"))
	assert.True(t, strings.HasSuffix(path, ".jpg"))
}

func TestSaveReceiptNoExtension(t *testing.T) {
	dir := t.TempDir()

	path, err := SaveReceipt(dir, "comprovante", []byte{0x01})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".bin"))
}
