package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/service"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{fmt.Errorf("wrapped: %w", pipeline.ErrConfigMissing), codes.FailedPrecondition},
		{fmt.Errorf("wrapped: %w", pipeline.ErrNotFound), codes.NotFound},
		{service.ValidateFileID(""), codes.InvalidArgument},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, service.Code(tt.err), "%v", tt.err)
	}
}

func TestDetectFileType(t *testing.T) {
	png := pngBytes(t, 2, 2)

	ft, ct := service.DetectFileType(png, "")
	assert.Equal(t, "image", ft)
	assert.Equal(t, "image/png", ct)

	ft, _ = service.DetectFileType([]byte("%PDF-1.7 ..."), "")
	assert.Equal(t, "document", ft)

	ft, _ = service.DetectFileType([]byte("plain words"), "")
	assert.Equal(t, "other", ft)

	ft, _ = service.DetectFileType([]byte("plain words"), "image")
	assert.Equal(t, "image", ft, "declared type wins")
}

func TestValidateFileID(t *testing.T) {
	assert.NoError(t, service.ValidateFileID("550e8400-e29b-41d4-a716-446655440000"))
	for _, bad := range []string{"", " ", "a/b", `a\b`, "..", string(make([]byte, 300))} {
		assert.ErrorIs(t, service.ValidateFileID(bad), service.ErrInvalidArgument, "%q", bad)
	}
}

func TestUndecodableImageStillUploads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.SetConfig(ctx, testRules)
	require.NoError(t, err)

	resp, err := env.svc.UploadFile(ctx, service.UploadRequest{FileID: "bad", FileType: "image", Data: []byte("not an image")})
	require.NoError(t, err)
	assert.Empty(t, resp.CompressInfo, "failed variants are only missing from the response")
}

func TestExclusionsQueueFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	key := models.Key{FileID: "f1", FileType: "image"}

	require.NoError(t, env.svc.AddExclusion(ctx, key))
	excluded, err := env.store.ListExclusions(ctx, []models.Key{key})
	require.NoError(t, err)
	assert.Len(t, excluded, 1)

	require.NoError(t, env.svc.RemoveExclusion(ctx, key))
	excluded, err = env.store.ListExclusions(ctx, []models.Key{key})
	require.NoError(t, err)
	assert.Empty(t, excluded)

	jobs, err := env.store.Claim(ctx, pipeline.StageModerationFilter, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "repeated changes collapse into one job")

	assert.ErrorIs(t, env.svc.AddExclusion(ctx, models.Key{FileID: "x"}), service.ErrInvalidArgument)
}

func TestGetFileBytes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.svc.SetConfig(ctx, testRules)
	require.NoError(t, err)

	data := pngBytes(t, 6, 6)
	_, err = env.svc.UploadFile(ctx, service.UploadRequest{FileID: "f1", FileType: "image", Data: data})
	require.NoError(t, err)

	got, err := env.svc.GetFileBytes(ctx, "files/image/f1/raw.bytes")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = env.svc.GetFileBytes(ctx, "files/image/nope/raw.bytes")
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestListTasksClampsLimit(t *testing.T) {
	env := newTestEnv(t)
	tasks, err := env.svc.ListTasks(context.Background(), 10_000, 0)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = env.svc.ListTasks(context.Background(), 10, -1)
	assert.ErrorIs(t, err, service.ErrInvalidArgument)
}
