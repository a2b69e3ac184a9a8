package keytest

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/timestamppb"
	v1 "k8s.io/externaljwt/apis/v1"
)

// SignerServer exposes an issuer through the Kubernetes external JWT signer
// API.
type SignerServer struct {
	v1.UnimplementedExternalJWTSignerServer

	logger *slog.Logger
	issuer *Issuer
	expiry time.Duration
}

func NewSignerServer(logger *slog.Logger, issuer *Issuer, expiry time.Duration) *SignerServer {
	return &SignerServer{
		logger: logger,
		issuer: issuer,
		expiry: expiry,
	}
}

func (svr *SignerServer) Sign(ctx context.Context, req *v1.SignJWTRequest) (*v1.SignJWTResponse, error) {
	logger := svr.logger.With(slog.String("method", "Sign"))

	if _, err := base64.RawURLEncoding.DecodeString(req.GetClaims()); err != nil {
		logger.Error("failed to decode claims", slog.Any("error", err))
		return nil, status.Errorf(codes.InvalidArgument, "not a valid base64url encoded JWT claims")
	}

	header, signature, err := svr.issuer.SignEncoded(req.GetClaims())
	if err != nil {
		logger.Error("failed to sign JWT", slog.Any("error", err))
		return nil, status.Errorf(codes.Internal, "not able to sign JWT")
	}

	return &v1.SignJWTResponse{
		Header:    header,
		Signature: signature,
	}, nil
}

func (svr *SignerServer) FetchKeys(ctx context.Context, req *v1.FetchKeysRequest) (*v1.FetchKeysResponse, error) {
	logger := svr.logger.With(slog.String("method", "FetchKeys"))

	published := svr.issuer.PublicKeys()
	keys := make([]*v1.Key, 0, len(published))
	for _, k := range published {
		keys = append(keys, &v1.Key{
			KeyId: k.KeyID,
			Key:   k.DER,
		})
	}
	logger.Debug("fetched keys", slog.Int("num-keys", len(keys)))

	return &v1.FetchKeysResponse{
		Keys:               keys,
		DataTimestamp:      timestamppb.New(svr.issuer.LastRotatedAt()),
		RefreshHintSeconds: int64(5 * time.Minute.Seconds()),
	}, nil
}

func (svr *SignerServer) Metadata(ctx context.Context, req *v1.MetadataRequest) (*v1.MetadataResponse, error) {
	return &v1.MetadataResponse{
		MaxTokenExpirationSeconds: int64(svr.expiry.Seconds()),
	}, nil
}

// DialSignerServer serves svr over an in-memory listener and returns a client
// connection to it. Both are torn down with the test.
func DialSignerServer(t testing.TB, svr v1.ExternalJWTSignerServer) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	v1.RegisterExternalJWTSignerServer(server, svr)
	go func() {
		_ = server.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return conn
}
