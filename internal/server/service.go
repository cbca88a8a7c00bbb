// Package server exposes the pipeline over gRPC. Messages are
// google.protobuf.Struct values so no generated stubs are needed.
package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "faktulove.pipeline.v1.DocumentPipeline"

// DocumentPipelineServer is the gRPC surface of the pipeline.
type DocumentPipelineServer interface {
	SubmitDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLog(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelDocument(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitCorrection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInvoice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReviewTickets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportInvoices(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(DocumentPipelineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(DocumentPipelineServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var DocumentPipelineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentPipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitDocument", DocumentPipelineServer.SubmitDocument),
		unary("GetStatus", DocumentPipelineServer.GetStatus),
		unary("GetLog", DocumentPipelineServer.GetLog),
		unary("CancelDocument", DocumentPipelineServer.CancelDocument),
		unary("SubmitCorrection", DocumentPipelineServer.SubmitCorrection),
		unary("GetInvoice", DocumentPipelineServer.GetInvoice),
		unary("ListReviewTickets", DocumentPipelineServer.ListReviewTickets),
		unary("ExportInvoices", DocumentPipelineServer.ExportInvoices),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faktulove/pipeline/v1/pipeline.proto",
}

func RegisterDocumentPipelineServer(s grpc.ServiceRegistrar, srv DocumentPipelineServer) {
	s.RegisterService(&DocumentPipelineServiceDesc, srv)
}

// FullMethod returns the invoke path of a method, for clients.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}
