package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/storage"
)

// Assembler builds the client-facing view of a file.
type Assembler struct {
	signer storage.Signer
	ttl    time.Duration
	logger *zap.Logger
}

func NewAssembler(signer storage.Signer, ttl time.Duration, logger *zap.Logger) *Assembler {
	return &Assembler{signer: signer, ttl: ttl, logger: logger}
}

// Assemble signs the raw path and every variant path. A path that cannot be
// signed is returned unsigned rather than failing the request.
func (a *Assembler) Assemble(ctx context.Context, file models.FileRecord, variants []models.CompressedVariant) models.Response {
	resp := models.Response{
		FileID:       file.FileID,
		Metadata:     file.Metadata,
		CompressInfo: make(map[string]models.VariantInfo, len(variants)),
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}

	paths := make([]string, len(variants)+1)
	paths[0] = file.StoragePath
	for i, v := range variants {
		paths[i+1] = v.StoragePath
	}

	signed := make([]string, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, p := range paths {
		g.Go(func() error {
			signed[i] = a.sign(gctx, file, p)
			return nil
		})
	}
	_ = g.Wait()

	resp.SourcePath = signed[0]
	for i, v := range variants {
		resp.CompressInfo[v.VariantName] = models.VariantInfo{Path: signed[i+1]}
	}
	return resp
}

func (a *Assembler) sign(ctx context.Context, file models.FileRecord, path string) string {
	u, err := a.signer.Sign(ctx, path, a.ttl)
	if err != nil || u == "" {
		a.logger.Warn("serving unsigned path",
			zap.String("file_id", file.FileID),
			zap.String("file_type", file.FileType),
			zap.String("path", path),
			zap.Error(err),
		)
		return path
	}
	return u
}
