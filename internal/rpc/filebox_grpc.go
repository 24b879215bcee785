package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/filebox/internal/models"
)

const (
	ServiceName = "filebox.v1.FileBox"

	FileBox_UploadFile_FullMethodName     = "/filebox.v1.FileBox/UploadFile"
	FileBox_GetFile_FullMethodName        = "/filebox.v1.FileBox/GetFile"
	FileBox_UpdateMetadata_FullMethodName = "/filebox.v1.FileBox/UpdateMetadata"
	FileBox_GetConfig_FullMethodName      = "/filebox.v1.FileBox/GetConfig"
	FileBox_SetConfig_FullMethodName      = "/filebox.v1.FileBox/SetConfig"
)

type FileBox_UploadFileServer = grpc.ClientStreamingServer[UploadFileRequest, models.Response]
type FileBox_UploadFileClient = grpc.ClientStreamingClient[UploadFileRequest, models.Response]

// FileBoxServer is the server API for the FileBox service.
type FileBoxServer interface {
	UploadFile(FileBox_UploadFileServer) error
	GetFile(context.Context, *GetFileRequest) (*models.Response, error)
	UpdateMetadata(context.Context, *UpdateMetadataRequest) (*models.Response, error)
	GetConfig(context.Context, *GetConfigRequest) (*ConfigResponse, error)
	SetConfig(context.Context, *SetConfigRequest) (*ConfigResponse, error)
}

// UnimplementedFileBoxServer can be embedded for forward compatibility.
type UnimplementedFileBoxServer struct{}

func (UnimplementedFileBoxServer) UploadFile(FileBox_UploadFileServer) error {
	return status.Error(codes.Unimplemented, "method UploadFile not implemented")
}
func (UnimplementedFileBoxServer) GetFile(context.Context, *GetFileRequest) (*models.Response, error) {
	return nil, status.Error(codes.Unimplemented, "method GetFile not implemented")
}
func (UnimplementedFileBoxServer) UpdateMetadata(context.Context, *UpdateMetadataRequest) (*models.Response, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateMetadata not implemented")
}
func (UnimplementedFileBoxServer) GetConfig(context.Context, *GetConfigRequest) (*ConfigResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetConfig not implemented")
}
func (UnimplementedFileBoxServer) SetConfig(context.Context, *SetConfigRequest) (*ConfigResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SetConfig not implemented")
}

func RegisterFileBoxServer(s grpc.ServiceRegistrar, srv FileBoxServer) {
	s.RegisterService(&FileBox_ServiceDesc, srv)
}

func _FileBox_UploadFile_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(FileBoxServer).UploadFile(&grpc.GenericServerStream[UploadFileRequest, models.Response]{ServerStream: stream})
}

func _FileBox_GetFile_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetFileRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FileBoxServer).GetFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FileBox_GetFile_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FileBoxServer).GetFile(ctx, req.(*GetFileRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FileBox_UpdateMetadata_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(UpdateMetadataRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FileBoxServer).UpdateMetadata(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FileBox_UpdateMetadata_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FileBoxServer).UpdateMetadata(ctx, req.(*UpdateMetadataRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FileBox_GetConfig_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetConfigRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FileBoxServer).GetConfig(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FileBox_GetConfig_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FileBoxServer).GetConfig(ctx, req.(*GetConfigRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FileBox_SetConfig_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetConfigRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FileBoxServer).SetConfig(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FileBox_SetConfig_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FileBoxServer).SetConfig(ctx, req.(*SetConfigRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// FileBox_ServiceDesc is the grpc.ServiceDesc for the FileBox service.
var FileBox_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FileBoxServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetFile", Handler: _FileBox_GetFile_Handler},
		{MethodName: "UpdateMetadata", Handler: _FileBox_UpdateMetadata_Handler},
		{MethodName: "GetConfig", Handler: _FileBox_GetConfig_Handler},
		{MethodName: "SetConfig", Handler: _FileBox_SetConfig_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "UploadFile",
			Handler:       _FileBox_UploadFile_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "filebox/v1/filebox.json",
}

// FileBoxClient is the client API for the FileBox service.
type FileBoxClient interface {
	UploadFile(ctx context.Context, opts ...grpc.CallOption) (FileBox_UploadFileClient, error)
	GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (*models.Response, error)
	UpdateMetadata(ctx context.Context, in *UpdateMetadataRequest, opts ...grpc.CallOption) (*models.Response, error)
	GetConfig(ctx context.Context, in *GetConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error)
	SetConfig(ctx context.Context, in *SetConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error)
}

type fileBoxClient struct {
	cc grpc.ClientConnInterface
}

// NewFileBoxClient returns a client that always requests the JSON codec.
func NewFileBoxClient(cc grpc.ClientConnInterface) FileBoxClient {
	return &fileBoxClient{cc: cc}
}

func callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.StaticMethod(), grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *fileBoxClient) UploadFile(ctx context.Context, opts ...grpc.CallOption) (FileBox_UploadFileClient, error) {
	stream, err := c.cc.NewStream(ctx, &FileBox_ServiceDesc.Streams[0], FileBox_UploadFile_FullMethodName, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	return &grpc.GenericClientStream[UploadFileRequest, models.Response]{ClientStream: stream}, nil
}

func (c *fileBoxClient) GetFile(ctx context.Context, in *GetFileRequest, opts ...grpc.CallOption) (*models.Response, error) {
	out := new(models.Response)
	if err := c.cc.Invoke(ctx, FileBox_GetFile_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileBoxClient) UpdateMetadata(ctx context.Context, in *UpdateMetadataRequest, opts ...grpc.CallOption) (*models.Response, error) {
	out := new(models.Response)
	if err := c.cc.Invoke(ctx, FileBox_UpdateMetadata_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileBoxClient) GetConfig(ctx context.Context, in *GetConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	out := new(ConfigResponse)
	if err := c.cc.Invoke(ctx, FileBox_GetConfig_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fileBoxClient) SetConfig(ctx context.Context, in *SetConfigRequest, opts ...grpc.CallOption) (*ConfigResponse, error) {
	out := new(ConfigResponse)
	if err := c.cc.Invoke(ctx, FileBox_SetConfig_FullMethodName, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
