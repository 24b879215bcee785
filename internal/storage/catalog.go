package storage

import (
	"errors"
	"fmt"
)

// ErrStoreMismatch means a table was addressed through the wrong kind of store.
var ErrStoreMismatch = errors.New("table store kind mismatch")

type Kind int

const (
	KindBlob Kind = iota + 1
	KindRelational
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindRelational:
		return "relational"
	default:
		return "unknown"
	}
}

// Table names known to the catalog.
const (
	TableFileRaw      = "file_raw"
	TableVariantBytes = "variant_bytes"
	TableFileData     = "file_data"
	TableVariants     = "compressed_variants"
)

// Catalog names every table of the pipeline together with the kind of
// store backing it.
type Catalog struct {
	kinds map[string]Kind
	blobs BlobStore
}

func NewCatalog(blobs BlobStore) *Catalog {
	return &Catalog{
		blobs: blobs,
		kinds: map[string]Kind{
			TableFileRaw:      KindBlob,
			TableVariantBytes: KindBlob,
			TableFileData:     KindRelational,
			TableVariants:     KindRelational,
		},
	}
}

// Blob returns the blob store behind a blob table.
func (c *Catalog) Blob(table string) (BlobStore, error) {
	if err := c.expect(table, KindBlob); err != nil {
		return nil, err
	}
	return c.blobs, nil
}

// Relational fails fast unless table is a relational table.
func (c *Catalog) Relational(table string) error {
	return c.expect(table, KindRelational)
}

func (c *Catalog) expect(table string, want Kind) error {
	got, ok := c.kinds[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if got != want {
		return fmt.Errorf("%w: table %q is %s, not %s", ErrStoreMismatch, table, got, want)
	}
	return nil
}
