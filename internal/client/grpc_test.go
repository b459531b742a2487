package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"jwtauth/pkg/oauth"
)

// fakeInvoker accepts calls carrying accepted and otherwise fails with
// codes.Unauthenticated, setting trailer when one is configured.
type fakeInvoker struct {
	accepted string
	trailer  metadata.MD
	err      error
	seen     []string
}

func (f *fakeInvoker) invoke(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
	md, _ := metadata.FromOutgoingContext(ctx)
	auth := md.Get("authorization")
	if len(auth) == 0 {
		f.seen = append(f.seen, "")
	} else {
		f.seen = append(f.seen, auth[0])
	}

	if f.err != nil {
		return f.err
	}
	if len(auth) > 0 && auth[0] == "Bearer "+f.accepted {
		return nil
	}
	for _, opt := range opts {
		if t, ok := opt.(grpc.TrailerCallOption); ok && f.trailer != nil {
			*t.TrailerAddr = f.trailer
		}
	}
	return status.Error(codes.Unauthenticated, "token expired")
}

func TestInterceptor_AttachesToken(t *testing.T) {
	auth := newFakeAuth("a1")
	inv := &fakeInvoker{accepted: "a1"}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer caller", "x-request-id", "42")
	err := UnaryClientInterceptor(auth)(ctx, "/svc/Get", nil, nil, nil, inv.invoke)
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer a1"}, inv.seen)
	assert.Equal(t, int32(0), auth.refreshes.Load())
}

func TestInterceptor_RefreshesOnUnauthenticatedAndRetries(t *testing.T) {
	auth := newFakeAuth("stale")
	inv := &fakeInvoker{accepted: "fresh", trailer: metadata.Pairs("www-authenticate", `Bearer error="invalid_token"`)}

	err := UnaryClientInterceptor(auth)(context.Background(), "/svc/Get", nil, nil, nil, inv.invoke)
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, inv.seen)
	assert.Equal(t, int32(1), auth.refreshes.Load())
}

func TestInterceptor_RetriesOnlyOnce(t *testing.T) {
	auth := newFakeAuth("stale")
	inv := &fakeInvoker{accepted: "never"}

	err := UnaryClientInterceptor(auth)(context.Background(), "/svc/Get", nil, nil, nil, inv.invoke)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	assert.Len(t, inv.seen, 2)
	assert.Equal(t, int32(1), auth.refreshes.Load())
}

func TestInterceptor_ExpiredRefreshTokenLogsOut(t *testing.T) {
	auth := newFakeAuth("stale")
	inv := &fakeInvoker{accepted: "fresh", trailer: metadata.Pairs("www-authenticate", `Bearer error="expired_refresh_token"`)}

	err := UnaryClientInterceptor(auth)(context.Background(), "/svc/Get", nil, nil, nil, inv.invoke)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	assert.Equal(t, int32(0), auth.refreshes.Load())
	assert.Equal(t, int32(1), auth.logouts.Load())
}

func TestInterceptor_IgnoresOtherErrors(t *testing.T) {
	auth := newFakeAuth("a1")
	inv := &fakeInvoker{err: status.Error(codes.PermissionDenied, "forbidden")}

	err := UnaryClientInterceptor(auth)(context.Background(), "/svc/Get", nil, nil, nil, inv.invoke)
	require.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, int32(0), auth.refreshes.Load())
}

func TestInterceptor_NoCredentialNoRefresh(t *testing.T) {
	auth := newFakeAuth("")
	inv := &fakeInvoker{accepted: "fresh"}

	err := UnaryClientInterceptor(auth)(context.Background(), "/svc/Get", nil, nil, nil, inv.invoke)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, []string{""}, inv.seen)
	assert.Equal(t, int32(0), auth.refreshes.Load())
}

func TestInterceptor_RefreshErrorIsReturned(t *testing.T) {
	auth := newFakeAuth("stale")
	auth.refreshErr = oauth.ErrLoggedOut
	inv := &fakeInvoker{accepted: "fresh"}

	err := UnaryClientInterceptor(auth)(context.Background(), "/svc/Get", nil, nil, nil, inv.invoke)
	require.ErrorIs(t, err, oauth.ErrLoggedOut)
	assert.Len(t, inv.seen, 1)
}
