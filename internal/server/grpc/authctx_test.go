package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/keyhandoff/internal/rpc/handoffv1"
)

func TestWithUserID_And_UserIDFromCtx(t *testing.T) {
	t.Parallel()

	id, ok := UserIDFromCtx(context.Background())
	require.False(t, ok)
	require.Equal(t, uuid.Nil, id)

	want := uuid.Must(uuid.NewV4())
	got, ok := UserIDFromCtx(WithUserID(context.Background(), want))
	require.True(t, ok)
	require.Equal(t, want, got)

	bad := context.WithValue(context.Background(), userIDKey, "not-uuid")
	id, ok = UserIDFromCtx(bad)
	require.False(t, ok)
	require.Equal(t, uuid.Nil, id)
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	s := &Server{signKey: key}
	ic := s.AuthUnary(handoffv1.MethodRegisterAssociationKey)

	var seen uuid.UUID
	h := func(ctx context.Context, req any) (any, error) {
		seen, _ = UserIDFromCtx(ctx)
		return "ok", nil
	}
	protected := &grpc.UnaryServerInfo{FullMethod: handoffv1.MethodRegisterAssociationKey}
	open := &grpc.UnaryServerInfo{FullMethod: handoffv1.MethodVerifyAssertion}

	// open methods need no token
	resp, err := ic(context.Background(), nil, open, h)
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
	require.Equal(t, uuid.Nil, seen)

	_, err = ic(context.Background(), nil, protected, h)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	sub := uuid.Must(uuid.NewV4())
	ctx := ctxAuth(jwtFor(t, sub.String(), key, time.Minute))
	_, err = ic(ctx, nil, protected, h)
	require.NoError(t, err)
	require.Equal(t, sub, seen)
}
