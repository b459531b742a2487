package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"jwtauth/pkg/logging"
	"jwtauth/pkg/oauth"
)

const (
	authorizationMetadata   = "authorization"
	wwwAuthenticateMetadata = "www-authenticate"
)

// withBearer returns ctx with the outgoing authorization metadata replaced
// by the bearer token of cred.
func withBearer(ctx context.Context, cred *oauth.Credential) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(authorizationMetadata)
	if cred != nil {
		md.Set(authorizationMetadata, bearer(cred))
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// UnaryClientInterceptor authorizes unary calls with the session's access
// token. A call failing with codes.Unauthenticated is retried once after a
// coordinated refresh, unless the server's www-authenticate trailer reports
// an expired refresh token, in which case the session is logged out.
func UnaryClientInterceptor(auth Authenticator) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		cred := auth.Credential()

		var trailer metadata.MD
		callOpts := append(append([]grpc.CallOption{}, opts...), grpc.Trailer(&trailer))

		err := invoker(withBearer(ctx, cred), method, req, reply, cc, callOpts...)
		if status.Code(err) != codes.Unauthenticated || cred == nil {
			return err
		}

		var header string
		if values := trailer.Get(wwwAuthenticateMetadata); len(values) > 0 {
			header = values[0]
		}
		challenge, perr := oauth.ParseChallenge(header)
		if perr != nil {
			return perr
		}

		if challenge.IsRefreshTokenExpired() {
			logging.Info("Client", "Server reported an expired refresh token for %s, logging out", method)
			if lerr := auth.Logout(ctx); lerr != nil {
				logging.Warn("Client", "Failed to log out: %v", lerr)
			}
			return err
		}

		fresh, rerr := renew(ctx, auth, cred)
		if rerr != nil {
			return rerr
		}

		return invoker(withBearer(ctx, fresh), method, req, reply, cc, opts...)
	}
}
