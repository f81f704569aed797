package main

import (
	"context"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/wayfare/internal/data"
	"github.com/PaulBabatuyi/wayfare/internal/scoring"
)

const (
	methodRecordInteraction = "/wayfare.v1.InteractionService/RecordInteraction"
	methodTopEntities       = "/wayfare.v1.InteractionService/TopEntities"
)

// Recorder records interactions; *scoring.Engine satisfies it.
type Recorder interface {
	RecordInteraction(ctx context.Context, req scoring.Request) (*data.Entity, error)
}

// EntityLister lists entities ranked by heatmap score.
type EntityLister interface {
	TopByScore(ctx context.Context, typ data.EntityType, limit int64) ([]*data.Entity, error)
}

// Server implements the interaction service and contains references to the
// scoring engine and the entity store.
type Server struct {
	engine   Recorder
	entities EntityLister
	log      zerolog.Logger
}

// newServer returns a ready-to-use Server.
func newServer(engine Recorder, entities EntityLister, log zerolog.Logger) *Server {
	return &Server{engine: engine, entities: entities, log: log}
}

// interactionServer is the handler type of interactionServiceDesc.
type interactionServer interface {
	RecordInteraction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TopEntities(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// interactionServiceDesc describes wayfare.v1.InteractionService. Requests and
// responses are google.protobuf.Struct so clients need no generated stubs.
var interactionServiceDesc = grpc.ServiceDesc{
	ServiceName: "wayfare.v1.InteractionService",
	HandlerType: (*interactionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RecordInteraction", Handler: structHandler(methodRecordInteraction, interactionServer.RecordInteraction)},
		{MethodName: "TopEntities", Handler: structHandler(methodTopEntities, interactionServer.TopEntities)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wayfare/v1/interaction.proto",
}

// structHandler adapts a Struct-in, Struct-out method to a grpc.MethodDesc
// handler, running it through the server's interceptor chain.
func structHandler(fullMethod string, call func(interactionServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(interactionServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(interactionServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// registerService registers the InteractionService on the given gRPC server.
func registerService(s grpc.ServiceRegistrar, srv *Server) {
	s.RegisterService(&interactionServiceDesc, srv)
}
