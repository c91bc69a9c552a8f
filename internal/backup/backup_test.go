package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loja/backend/internal/domain"
	"loja/backend/internal/store"
	"loja/backend/internal/store/memory"
)

func newManager(t *testing.T) (*Manager, *memory.Store, string) {
	t.Helper()
	dir := t.TempDir()
	repo := memory.New()
	m := NewManager(dir, repo, nil)
	m.now = func() time.Time { return time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC) }
	return m, repo, dir
}

func TestCreateAndRestore(t *testing.T) {
	ctx := context.Background()
	m, repo, dir := newManager(t)

	product, err := repo.CreateProduct(ctx, domain.Product{Name: "Chair", Quantity: 4, PriceCents: 1200})
	require.NoError(t, err)
	_, err = repo.CreateCustomer(ctx, domain.Customer{Name: "Maria"})
	require.NoError(t, err)

	file, err := m.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, "backup_2024-05-15_10-30-00.json", file.Name)
	assert.Positive(t, file.SizeBytes)
	assert.FileExists(t, filepath.Join(dir, file.Name))

	_, err = repo.AddProductStock(ctx, product.ID, -4)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteCustomer(ctx, 1))

	require.NoError(t, m.Restore(ctx, file.Name))

	restored, err := repo.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, restored.Quantity)
	customers, err := repo.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 1)
}

func TestCreateDoesNotOverwriteSameSecond(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	first, err := m.Create(ctx)
	require.NoError(t, err)
	second, err := m.Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.Name, second.Name)

	files, err := m.List()
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestListIgnoresOtherFiles(t *testing.T) {
	m, _, dir := newManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup_2024-01-01_00-00-00.json"), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup_2024-02-01_00-00-00.json"), []byte("{}"), 0o600))

	files, err := m.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "backup_2024-02-01_00-00-00.json", files[0].Name)
}

func TestListMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"), memory.New(), nil)
	files, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRestoreRejectsBadNames(t *testing.T) {
	m, _, _ := newManager(t)
	for _, name := range []string{"", "../backup_x.json", "dir/backup_x.json", `dir\backup_x.json`, "data.json"} {
		err := m.Restore(context.Background(), name)
		assert.ErrorIs(t, err, store.ErrInvalidInput, name)
	}
	assert.ErrorIs(t, m.Restore(context.Background(), "backup_1999-01-01_00-00-00.json"), store.ErrNotFound)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	m, _, dir := newManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup_bad.json"), []byte("not json"), 0o600))
	assert.ErrorIs(t, m.Restore(context.Background(), "backup_bad.json"), store.ErrInvalidInput)
}
