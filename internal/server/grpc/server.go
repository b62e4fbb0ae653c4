// Package grpcserver exposes the keyhandoff gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/keyhandoff/internal/convert"
	"github.com/and161185/keyhandoff/internal/model"
	"github.com/and161185/keyhandoff/internal/rpc/handoffv1"
	"github.com/and161185/keyhandoff/internal/service"
)

var _ handoffv1.HandoffServer = (*Server)(nil)

// Server wires services into gRPC handlers.
type Server struct {
	provider service.ProviderService
	verifier service.VerifierService
	signKey  []byte
	log      *zap.Logger
}

// New constructs a gRPC server with injected services.
func New(provider service.ProviderService, verifier service.VerifierService, signKey []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{provider: provider, verifier: verifier, signKey: signKey, log: log}
}

// --- Provider ---

// SignUp creates a new account.
func (s *Server) SignUp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in := service.SignUpInput{
		Username:   convert.String(req, "username"),
		Password:   convert.String(req, "password"),
		GivenName:  convert.String(req, "given_name"),
		FamilyName: convert.String(req, "family_name"),
	}
	if in.Username == "" || in.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	res, err := s.provider.SignUp(ctx, in)
	if err != nil {
		return nil, convert.ToStatus(err, "sign up")
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"user_id":        structpb.NewStringValue(res.UserID),
		"user_confirmed": structpb.NewBoolValue(res.UserConfirmed),
	}}, nil
}

// ResendCode issues a fresh confirmation code.
func (s *Server) ResendCode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username := convert.String(req, "username")
	if username == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username")
	}
	if err := s.provider.ResendCode(ctx, username); err != nil {
		return nil, convert.ToStatus(err, "resend code")
	}
	return &structpb.Struct{}, nil
}

// ConfirmSignUp confirms an account with its confirmation code.
func (s *Server) ConfirmSignUp(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, code := convert.String(req, "username"), convert.String(req, "code")
	if username == "" || code == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/code")
	}
	if err := s.provider.ConfirmSignUp(ctx, username, code, remoteIP(ctx)); err != nil {
		return nil, convert.ToStatus(err, "confirm sign up")
	}
	return &structpb.Struct{}, nil
}

// SignIn authenticates a user. Success and challenge outcomes are returned
// as messages; a failure outcome is returned as a status error.
func (s *Server) SignIn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, password := convert.String(req, "username"), convert.String(req, "password")
	if username == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	outcome := s.provider.SignIn(ctx, username, password, remoteIP(ctx))
	if f, ok := outcome.(model.Failure); ok {
		if f.Err == nil {
			return nil, status.Error(codes.Unauthenticated, f.Reason())
		}
		return nil, convert.ToStatus(f.Err, "sign in")
	}
	out, err := convert.ToStructOutcome(outcome)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "sign in: %v", err)
	}
	return out, nil
}

// --- Verifier ---

// RegisterAssociationKey stores the caller's public association key. Requires a bearer token.
func (s *Server) RegisterAssociationKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	key := convert.String(req, "association_key")
	if key == "" {
		return nil, status.Error(codes.InvalidArgument, "empty association_key")
	}
	username, err := s.verifier.RegisterKey(ctx, userID, key)
	if err != nil {
		return nil, convert.ToStatus(err, "register association key")
	}
	return convert.Strings(map[string]string{"username": username}), nil
}

// UnregisterAssociationKey drops the caller's association key. Requires a bearer token.
func (s *Server) UnregisterAssociationKey(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	username, err := s.verifier.UnregisterKey(ctx, userID)
	if err != nil {
		return nil, convert.ToStatus(err, "unregister association key")
	}
	return convert.Strings(map[string]string{"username": username}), nil
}

// caller returns the authenticated user, set by AuthUnary or read from the bearer token.
func (s *Server) caller(ctx context.Context) (uuid.UUID, error) {
	if id, ok := UserIDFromCtx(ctx); ok {
		return id, nil
	}
	id, err := s.userIDFromCtx(ctx)
	if err != nil {
		return uuid.Nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

// VerifyAssertion runs the secondary verification flow on a handed-off payload.
func (s *Server) VerifyAssertion(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := convert.FromStructPayload(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad payload: %v", err)
	}
	res, err := s.verifier.Verify(ctx, p)
	if err != nil {
		s.log.Error("verify assertion", zap.Error(err))
		return nil, status.Error(codes.Unavailable, "verification unavailable")
	}
	return convert.ToStructResult(res), nil
}

// remoteIP returns the peer host without port, so limiter buckets survive reconnects.
func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// userIDFromCtx: extract "authorization: Bearer <JWT>", verify HS256, return sub as UUID.
func (s *Server) userIDFromCtx(ctx context.Context) (uuid.UUID, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return uuid.Nil, errors.New("token expired or not valid yet")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.New("bad subject")
	}
	return id, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
