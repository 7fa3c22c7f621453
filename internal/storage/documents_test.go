package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/tesinvoice/internal/models"
)

func testKey(fileName string) models.DocumentKey {
	return models.DocumentKey{
		Kind:        models.InvoiceKindCharging,
		VIN:         "VIN123",
		Date:        time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
		CountryCode: "AT",
		RemoteName:  fileName,
	}
}

func TestWriteAndExists(t *testing.T) {
	store := NewDocumentStore(filepath.Join(t.TempDir(), "invoices"))
	key := testKey("inv.pdf")

	exists, err := store.Exists(key)
	require.NoError(t, err)
	assert.False(t, exists)

	path, err := store.Write(key, []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "tesla_charging_invoice_VIN123_2024-05-10_AT_inv.pdf"), path)

	exists, err = store.Exists(key)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
}

func TestList_SkipsSidecarsAndTempFiles(t *testing.T) {
	store := NewDocumentStore(t.TempDir())
	require.NoError(t, store.Init())

	for _, name := range []string{
		"b.pdf",
		"a.pdf",
		"a.pdf.json",
		".b.pdf.tmp-123",
		".tesinvoice.lock",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(store.Dir(), "nested"), 0755))

	docs, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(store.Dir(), "a.pdf"),
		filepath.Join(store.Dir(), "b.pdf"),
	}, docs)
}

func TestList_MissingDir(t *testing.T) {
	store := NewDocumentStore(filepath.Join(t.TempDir(), "missing"))
	docs, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSidecar(t *testing.T) {
	store := NewDocumentStore(t.TempDir())
	doc := filepath.Join(store.Dir(), "a.pdf")

	sidecar, existed, err := store.LoadSidecar(doc)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.False(t, sidecar.Sent())

	require.NoError(t, store.SaveSidecar(doc, sidecar))
	raw, err := os.ReadFile(SidecarPath(doc))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	sidecar.MarkSent(time.Unix(1715340000, 0))
	require.NoError(t, store.SaveSidecar(doc, sidecar))

	raw, err = os.ReadFile(SidecarPath(doc))
	require.NoError(t, err)
	assert.JSONEq(t, `{"emailSent":1715340000}`, string(raw))

	loaded, existed, err := store.LoadSidecar(doc)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.True(t, loaded.Sent())
}

func TestLoadSidecar_Corrupt(t *testing.T) {
	store := NewDocumentStore(t.TempDir())
	doc := filepath.Join(store.Dir(), "a.pdf")
	require.NoError(t, os.WriteFile(SidecarPath(doc), []byte("{"), 0644))

	_, _, err := store.LoadSidecar(doc)
	assert.Error(t, err)
}

func TestValidatePDF_RejectsGarbage(t *testing.T) {
	assert.Error(t, ValidatePDF([]byte("not a pdf")))
	assert.Error(t, ValidatePDF([]byte("%PDF-1.4\n1 0 obj")))
}

func TestValidatePDF_WellFormed(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "invoice.pdf"))
	require.NoError(t, err)

	assert.NoError(t, ValidatePDF(data))
	// 截断后的同一份文件必须被拒绝
	assert.Error(t, ValidatePDF(data[:len(data)/2]))
}
