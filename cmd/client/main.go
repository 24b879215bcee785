package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/PaulBabatuyi/filebox/internal/config"
	"github.com/PaulBabatuyi/filebox/internal/middleware"
	"github.com/PaulBabatuyi/filebox/internal/rpc"
)

const chunkSize = 64 * 1024

type FileClient struct {
	conn   *grpc.ClientConn
	client rpc.FileBoxClient
	apiKey string
}

func NewFileClient(addr, apiKey string) (*FileClient, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &FileClient{conn: conn, client: rpc.NewFileBoxClient(conn), apiKey: apiKey}, nil
}

func (fc *FileClient) Close() error { return fc.conn.Close() }

func (fc *FileClient) outgoing(ctx context.Context) context.Context {
	if fc.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, middleware.APIKeyHeader, fc.apiKey)
}

// UploadFile streams a file to the server.
func (fc *FileClient) UploadFile(ctx context.Context, filePath string, meta *rpc.UploadMetadata) (any, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	meta.Size = info.Size()

	stream, err := fc.client.UploadFile(fc.outgoing(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	if err := stream.Send(&rpc.UploadFileRequest{Metadata: meta}); err != nil {
		return nil, fmt.Errorf("failed to send metadata: %w", err)
	}

	buffer := make([]byte, chunkSize)
	var sent int64
	for {
		n, err := file.Read(buffer)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		if err := stream.Send(&rpc.UploadFileRequest{Chunk: buffer[:n]}); err != nil {
			return nil, fmt.Errorf("failed to send chunk: %w", err)
		}
		sent += int64(n)
		if info.Size() > 0 {
			fmt.Fprintf(os.Stderr, "\rUploading: %.2f%%", float64(sent)/float64(info.Size())*100)
		}
	}
	fmt.Fprintln(os.Stderr)

	resp, err := stream.CloseAndRecv()
	if err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return resp, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseMeta turns k=v pairs into a metadata map.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata %q, want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func main() {
	var (
		addr    string
		apiKey  string
		timeout time.Duration
		client  *FileClient
	)

	root := &cobra.Command{
		Use:          "filebox-client",
		Short:        "Command line client for the filebox gRPC API",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			var err error
			client, err = NewFileClient(addr, apiKey)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return client.Close()
		},
	}
	root.PersistentFlags().StringVar(&addr, "addr", "localhost:50051", "server address")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("FILEBOX_API_KEY"), "api key sent with every call")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "per call timeout")

	withTimeout := func(cmd *cobra.Command) (context.Context, context.CancelFunc) {
		return context.WithTimeout(cmd.Context(), timeout)
	}

	var fileID, fileType string
	var meta []string
	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file and print its response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := parseMeta(meta)
			if err != nil {
				return err
			}
			if fileID == "" {
				fileID = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			resp, err := client.UploadFile(ctx, args[0], &rpc.UploadMetadata{FileID: fileID, FileType: fileType, Metadata: md})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	upload.Flags().StringVar(&fileID, "id", "", "file id (defaults to the file name)")
	upload.Flags().StringVar(&fileType, "type", "", "file type (detected when empty)")
	upload.Flags().StringSliceVar(&meta, "meta", nil, "metadata as key=value, repeatable")

	get := &cobra.Command{
		Use:   "get <file_id>",
		Short: "Print the response for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			resp, err := client.client.GetFile(client.outgoing(ctx), &rpc.GetFileRequest{FileID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}

	var setMeta []string
	update := &cobra.Command{
		Use:   "update-meta <file_id>",
		Short: "Replace a file's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := parseMeta(setMeta)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd)
			defer cancel()
			resp, err := client.client.UpdateMetadata(client.outgoing(ctx), &rpc.UpdateMetadataRequest{FileID: args[0], Metadata: md})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	update.Flags().StringSliceVar(&setMeta, "meta", nil, "metadata as key=value, repeatable")

	configCmd := &cobra.Command{Use: "config", Short: "Read or replace the rule document"}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the active rule document",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				resp, err := client.client.GetConfig(client.outgoing(ctx), &rpc.GetConfigRequest{})
				if err != nil {
					return err
				}
				return printJSON(resp)
			},
		},
		&cobra.Command{
			Use:   "set <rules.yaml>",
			Short: "Replace the rule document from a yaml or json file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				doc, err := config.LoadRules(args[0])
				if err != nil {
					return err
				}
				ctx, cancel := withTimeout(cmd)
				defer cancel()
				resp, err := client.client.SetConfig(client.outgoing(ctx), &rpc.SetConfigRequest{Document: doc})
				if err != nil {
					return err
				}
				return printJSON(resp)
			},
		},
	)

	root.AddCommand(upload, get, update, configCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
