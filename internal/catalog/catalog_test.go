package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/pricecrowd/internal/api"
	"github.com/soaringjerry/pricecrowd/internal/services"
)

const sample = `
products:
  - name: Product 1
    description: a kettle
    images: [hash1, hash2]
    duration: 1000s
  - name: Product 2
    duration: 2h
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, c.Products, 2)
	require.Equal(t, []string{"hash1", "hash2"}, c.Products[0].Images)
	require.Equal(t, 1000*time.Second, c.Products[0].Duration)
	require.Equal(t, 2*time.Hour, c.Products[1].Duration)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":         "",
		"no products":   "products: []\n",
		"unknown field": "products:\n  - name: P\n    duration: 1s\n    price: 3\n",
		"no name":       "products:\n  - duration: 1s\n",
		"no duration":   "products:\n  - name: P\n",
		"fractional":    "products:\n  - name: P\n    duration: 1500ms\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestImportCreatesSessionsInOrder(t *testing.T) {
	ctx := context.Background()
	admin := common.HexToAddress("0xa1")
	now := time.Unix(1_700_000_000, 0).UTC()
	reg := services.NewRegistry(admin, api.NewMemoryStore(0), services.WithClock(func() time.Time { return now }))

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	c, err := LoadFile(path)
	require.NoError(t, err)

	views, err := Import(ctx, reg, admin, c, nil)
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.True(t, views[0].Deadline.Equal(now.Add(1000*time.Second)))

	infos, err := reg.ListSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, "Product 1", infos[0].ProductName)
	require.Equal(t, "Product 2", infos[1].ProductName)
}

func TestImportRequiresAdmin(t *testing.T) {
	reg := services.NewRegistry(common.HexToAddress("0xa1"), api.NewMemoryStore(0))
	c, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	views, err := Import(context.Background(), reg, common.HexToAddress("0x01"), c, nil)
	require.ErrorIs(t, err, services.ErrNotAuthorized)
	require.Empty(t, views)
}
