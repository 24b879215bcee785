package service

import (
	"bytes"
	"context"
	"errors"
	"io"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/filebox/internal/models"
	"github.com/PaulBabatuyi/filebox/internal/pipeline"
	"github.com/PaulBabatuyi/filebox/internal/rpc"
)

type fileServer struct {
	rpc.UnimplementedFileBoxServer

	svc *FileBox
}

// NewFileServer exposes svc over gRPC.
func NewFileServer(svc *FileBox) rpc.FileBoxServer {
	return &fileServer{svc: svc}
}

func (s *fileServer) UploadFile(stream rpc.FileBox_UploadFileServer) error {
	firstMsg, err := stream.Recv()
	if err != nil {
		return status.Error(codes.InvalidArgument, "no metadata received")
	}
	metadata := firstMsg.GetMetadata()
	if metadata == nil {
		return status.Error(codes.InvalidArgument, "first message must be metadata")
	}
	if s.svc.maxUpload > 0 && metadata.Size > s.svc.maxUpload {
		return status.Errorf(codes.InvalidArgument, "file too large: declared %d bytes exceeds %d", metadata.Size, s.svc.maxUpload)
	}

	var buf bytes.Buffer
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return status.Error(codes.Internal, "failed to receive chunk")
		}
		buf.Write(msg.GetChunk())
		if s.svc.maxUpload > 0 && int64(buf.Len()) > s.svc.maxUpload {
			return status.Errorf(codes.InvalidArgument, "file too large: exceeds %d bytes", s.svc.maxUpload)
		}
	}

	resp, err := s.svc.UploadFile(stream.Context(), UploadRequest{
		FileID:   metadata.FileID,
		FileType: metadata.FileType,
		Data:     buf.Bytes(),
		Metadata: metadata.Metadata,
	})
	if err != nil {
		return s.status(err)
	}
	return stream.SendAndClose(resp)
}

func (s *fileServer) GetFile(ctx context.Context, req *rpc.GetFileRequest) (*models.Response, error) {
	resp, err := s.svc.GetFile(ctx, req.FileID)
	if err != nil {
		return nil, s.status(err)
	}
	return resp, nil
}

func (s *fileServer) UpdateMetadata(ctx context.Context, req *rpc.UpdateMetadataRequest) (*models.Response, error) {
	resp, err := s.svc.UpdateMetadata(ctx, req.FileID, req.Metadata)
	if err != nil {
		return nil, s.status(err)
	}
	return resp, nil
}

func (s *fileServer) GetConfig(ctx context.Context, _ *rpc.GetConfigRequest) (*rpc.ConfigResponse, error) {
	cfg, err := s.svc.GetConfig(ctx)
	if err != nil {
		return nil, s.status(err)
	}
	return configResponse(cfg), nil
}

func (s *fileServer) SetConfig(ctx context.Context, req *rpc.SetConfigRequest) (*rpc.ConfigResponse, error) {
	cfg, err := s.svc.SetConfig(ctx, req.Document)
	if err != nil {
		return nil, s.status(err)
	}
	return configResponse(cfg), nil
}

func configResponse(cfg *Config) *rpc.ConfigResponse {
	return &rpc.ConfigResponse{
		Document: cfg.Document,
		Version:  cfg.Version.Version,
		Checksum: cfg.Version.Checksum,
		Changed:  cfg.Changed,
	}
}

// status maps service errors onto gRPC codes. Unexpected errors are logged
// and hidden from the caller.
func (s *fileServer) status(err error) error {
	code := Code(err)
	if code == codes.Internal {
		s.svc.logger.Error("request failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(code, err.Error())
}

// Code classifies err for transport mapping.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, pipeline.ErrConfigMissing):
		return codes.FailedPrecondition
	case errors.Is(err, pipeline.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
