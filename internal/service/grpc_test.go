package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/rpc"
)

func TestUploadRequiresConfig(t *testing.T) {
	env := newTestEnv(t)
	client := setupTestServer(t, env)

	_, err := upload(t, client, &rpc.UploadMetadata{FileType: "image"}, pngBytes(t, 8, 8))
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Contains(t, err.Error(), "SetConfig")
}

func TestUploadGetUpdateFlow(t *testing.T) {
	env := newTestEnv(t)
	client := setupTestServer(t, env)
	ctx := context.Background()

	cfg, err := client.SetConfig(ctx, &rpc.SetConfigRequest{Document: testRules})
	require.NoError(t, err)
	assert.True(t, cfg.Changed)
	assert.Equal(t, int64(1), cfg.Version)

	resp, err := upload(t, client, &rpc.UploadMetadata{
		FileID:   "f1",
		FileType: "image",
		Metadata: map[string]any{"title": "harbour"},
	}, pngBytes(t, 40, 30))
	require.NoError(t, err)

	assert.Equal(t, "f1", resp.FileID)
	assert.True(t, strings.HasPrefix(resp.SourcePath, publicURL+"/files/image/f1/raw.bytes?expires="), resp.SourcePath)
	require.Len(t, resp.CompressInfo, 2)
	assert.Contains(t, resp.CompressInfo["thumb"].Path, "/files/image/f1/thumb/image.JPEG")
	assert.Equal(t, "harbour", resp.Metadata["title"])

	jobs, err := env.store.Claim(ctx, pipeline.StageModerationFilter, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.Key{FileID: "f1", FileType: "image"}, jobs[0].Key)

	got, err := client.GetFile(ctx, &rpc.GetFileRequest{FileID: "f1"})
	require.NoError(t, err)
	assert.Len(t, got.CompressInfo, 2)

	updated, err := client.UpdateMetadata(ctx, &rpc.UpdateMetadataRequest{FileID: "f1", Metadata: map[string]any{"title": "pier"}})
	require.NoError(t, err)
	assert.Equal(t, "pier", updated.Metadata["title"])

	jobs, err = env.store.Claim(ctx, pipeline.StageModerationMerge, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	active, err := client.GetConfig(ctx, &rpc.GetConfigRequest{})
	require.NoError(t, err)
	assert.Len(t, active.Document.Compress, 2)
	assert.Equal(t, cfg.Checksum, active.Checksum)
}

func TestUploadGeneratesFileID(t *testing.T) {
	env := newTestEnv(t)
	client := setupTestServer(t, env)
	_, err := client.SetConfig(context.Background(), &rpc.SetConfigRequest{Document: testRules})
	require.NoError(t, err)

	resp, err := upload(t, client, &rpc.UploadMetadata{}, pngBytes(t, 4, 4))
	require.NoError(t, err)
	assert.Len(t, resp.FileID, 36)
	assert.Contains(t, resp.SourcePath, "/files/image/"+resp.FileID+"/", "file type is sniffed from the bytes")
}

func TestGetFileNotFound(t *testing.T) {
	env := newTestEnv(t)
	client := setupTestServer(t, env)

	_, err := client.GetFile(context.Background(), &rpc.GetFileRequest{FileID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetFile(context.Background(), &rpc.GetFileRequest{FileID: "../etc"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestUploadSizeLimit(t *testing.T) {
	env := newTestEnv(t)
	client := setupTestServer(t, env)

	_, err := upload(t, client, &rpc.UploadMetadata{FileType: "image", Size: 600 * 1024 * 1024}, []byte("x"))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Contains(t, err.Error(), "file too large")
}

func TestUploadRejectsMissingMetadata(t *testing.T) {
	env := newTestEnv(t)
	client := setupTestServer(t, env)

	stream, err := client.UploadFile(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&rpc.UploadFileRequest{Chunk: []byte("data")}))
	_, err = stream.CloseAndRecv()
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSetConfigRejectsInvalidDocument(t *testing.T) {
	env := newTestEnv(t)
	client := setupTestServer(t, env)

	_, err := client.SetConfig(context.Background(), &rpc.SetConfigRequest{Document: models.RuleDocument{
		Compress: []models.CompressionRule{{FileType: "image", OutputFormat: "PNG", VariantName: "x", Resample: "cubic-ish"}},
	}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetConfig(context.Background(), &rpc.GetConfigRequest{})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}
