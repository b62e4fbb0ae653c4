// Package handoffv1 declares the keyhandoff.v1.Handoff gRPC service.
// Messages are google.protobuf.Struct values; field names are listed per method below.
package handoffv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "keyhandoff.v1.Handoff"

// Full method names.
const (
	MethodSignUp                   = "/" + ServiceName + "/SignUp"
	MethodResendCode               = "/" + ServiceName + "/ResendCode"
	MethodConfirmSignUp            = "/" + ServiceName + "/ConfirmSignUp"
	MethodSignIn                   = "/" + ServiceName + "/SignIn"
	MethodRegisterAssociationKey   = "/" + ServiceName + "/RegisterAssociationKey"
	MethodUnregisterAssociationKey = "/" + ServiceName + "/UnregisterAssociationKey"
	MethodVerifyAssertion          = "/" + ServiceName + "/VerifyAssertion"
)

// HandoffServer is implemented by the server.
//
//	SignUp                   {username, password, given_name, family_name} -> {user_id, user_confirmed}
//	ResendCode               {username} -> {}
//	ConfirmSignUp            {username, code} -> {}
//	SignIn                   {username, password} -> {outcome, username, access_token, issued_at_ms, expires_at_ms, challenge}
//	RegisterAssociationKey   {association_key} (bearer) -> {username}
//	UnregisterAssociationKey {} (bearer) -> {username}
//	VerifyAssertion          {username, timestamp_nonce, userSignature, associationKey} -> {authenticated}
type HandoffServer interface {
	SignUp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResendCode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmSignUp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterAssociationKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnregisterAssociationKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyAssertion(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(HandoffServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name, full string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(HandoffServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(HandoffServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes keyhandoff.v1.Handoff.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HandoffServer)(nil),
	Methods: []grpc.MethodDesc{
		method("SignUp", MethodSignUp, HandoffServer.SignUp),
		method("ResendCode", MethodResendCode, HandoffServer.ResendCode),
		method("ConfirmSignUp", MethodConfirmSignUp, HandoffServer.ConfirmSignUp),
		method("SignIn", MethodSignIn, HandoffServer.SignIn),
		method("RegisterAssociationKey", MethodRegisterAssociationKey, HandoffServer.RegisterAssociationKey),
		method("UnregisterAssociationKey", MethodUnregisterAssociationKey, HandoffServer.UnregisterAssociationKey),
		method("VerifyAssertion", MethodVerifyAssertion, HandoffServer.VerifyAssertion),
	},
	Metadata: "keyhandoff/v1/handoff.proto",
}

// RegisterHandoffServer registers srv on s.
func RegisterHandoffServer(s grpc.ServiceRegistrar, srv HandoffServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// HandoffClient is the client side of keyhandoff.v1.Handoff.
type HandoffClient struct {
	cc grpc.ClientConnInterface
}

// NewHandoffClient wraps a client connection.
func NewHandoffClient(cc grpc.ClientConnInterface) *HandoffClient { return &HandoffClient{cc: cc} }

func (c *HandoffClient) invoke(ctx context.Context, full string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, full, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HandoffClient) SignUp(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSignUp, in, opts...)
}

func (c *HandoffClient) ResendCode(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodResendCode, in, opts...)
}

func (c *HandoffClient) ConfirmSignUp(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodConfirmSignUp, in, opts...)
}

func (c *HandoffClient) SignIn(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodSignIn, in, opts...)
}

func (c *HandoffClient) RegisterAssociationKey(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodRegisterAssociationKey, in, opts...)
}

func (c *HandoffClient) UnregisterAssociationKey(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUnregisterAssociationKey, in, opts...)
}

func (c *HandoffClient) VerifyAssertion(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodVerifyAssertion, in, opts...)
}
