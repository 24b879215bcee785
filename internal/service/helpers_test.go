package service_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/PaulBabatuyi/filebox/internal/database"
	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/rpc"
	"github.com/PaulBabatuyi/filebox/internal/service"
	"github.com/PaulBabatuyi/filebox/internal/storage"
)

const (
	bufSize   = 1024 * 1024
	publicURL = "https://cdn.test"
)

var testRules = models.RuleDocument{
	Compress: []models.CompressionRule{
		{FileType: "image", OutputFormat: "PNG", VariantName: "orig", TargetWidth: 0},
		{FileType: "image", OutputFormat: "JPEG", VariantName: "thumb", TargetWidth: 20},
	},
	Moderation: []models.ModerationRule{{
		FileType:  "image",
		LabelData: models.LabelData{DefaultMetadata: map[string]any{"title": "untitled"}},
	}},
}

type testEnv struct {
	svc   *service.FileBox
	store *database.MemoryStore
	blobs *storage.FilesystemStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	store := database.NewMemoryStore()
	blobs, err := storage.NewFilesystemStorage(t.TempDir(), publicURL)
	require.NoError(t, err)
	paths := storage.NewResolver("")

	svc := service.New(service.Options{
		Store:                store,
		Blobs:                blobs,
		Paths:                paths,
		Compress:             pipeline.NewCompressStage(store, blobs, pipeline.NewExpander(blobs, paths, 2), 2, nil, logger),
		Assembler:            pipeline.NewAssembler(blobs, time.Hour, logger),
		Rules:                pipeline.NewRuleManager(store, logger),
		Review:               pipeline.NewReviewProcessor(store, blobs, paths, nil, logger),
		MaxConcurrentUploads: 2,
		MaxUploadBytes:       1 << 20,
		Logger:               logger,
	})
	return &testEnv{svc: svc, store: store, blobs: blobs}
}

func setupTestServer(t *testing.T, env *testEnv) rpc.FileBoxClient {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	rpc.RegisterFileBoxServer(server, service.NewFileServer(env.svc))

	go func() {
		if err := server.Serve(lis); err != nil {
			t.Logf("Server error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		server.Stop()
	})
	return rpc.NewFileBoxClient(conn)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// upload streams data in small chunks.
func upload(t *testing.T, client rpc.FileBoxClient, meta *rpc.UploadMetadata, data []byte) (*models.Response, error) {
	t.Helper()
	stream, err := client.UploadFile(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&rpc.UploadFileRequest{Metadata: meta}))
	for start := 0; start < len(data); start += 100 {
		end := min(start+100, len(data))
		if err := stream.Send(&rpc.UploadFileRequest{Chunk: data[start:end]}); err != nil {
			break
		}
	}
	return stream.CloseAndRecv()
}
