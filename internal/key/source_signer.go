package key

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	v1 "k8s.io/externaljwt/apis/v1"
)

var _ Source = (*SignerSource)(nil)

// SignerSource reads public keys from a Kubernetes external JWT signer.
type SignerSource struct {
	logger *slog.Logger
	client v1.ExternalJWTSignerClient
}

func NewSignerSource(logger *slog.Logger, conn grpc.ClientConnInterface) *SignerSource {
	return &SignerSource{
		logger: logger.With(slog.String("source", "external-signer")),
		client: v1.NewExternalJWTSignerClient(conn),
	}
}

// DialSigner opens a client connection to a signer listening on a unix
// domain socket.
func DialSigner(socket string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient("unix://"+socket, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create signer client: %w", err)
	}
	return conn, nil
}

func (s *SignerSource) FetchKeys(ctx context.Context) ([]*PublicKey, error) {
	resp, err := s.client.FetchKeys(ctx, &v1.FetchKeysRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: FetchKeys: %w", ErrKeySourceUnavailable, err)
	}

	keys := make([]*PublicKey, 0, len(resp.GetKeys()))
	for _, k := range resp.GetKeys() {
		pub, err := x509.ParsePKIXPublicKey(k.GetKey())
		if err != nil {
			skipKey(s.logger, k.GetKeyId(), skipMalformed, err)
			continue
		}
		rsaKey, ok := pub.(*rsa.PublicKey)
		if !ok {
			skipKey(s.logger, k.GetKeyId(), skipUnsupported, fmt.Errorf("key type %T", pub))
			continue
		}
		keys = append(keys, &PublicKey{KeyID: k.GetKeyId(), Key: rsaKey})
	}

	s.logger.Debug("Fetched signer keys",
		slog.Int("num-keys", len(keys)),
		slog.Time("data-timestamp", resp.GetDataTimestamp().AsTime()),
		slog.Int64("refresh-hint-seconds", resp.GetRefreshHintSeconds()),
	)
	return keys, nil
}
