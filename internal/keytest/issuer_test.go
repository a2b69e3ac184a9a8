package keytest

import (
	"context"
	"encoding/base64"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
	v1 "k8s.io/externaljwt/apis/v1"
)

func verifyWith(t *testing.T, issuer *Issuer, token string) *jwt.Token {
	t.Helper()

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		kid, _ := tok.Header["kid"].(string)
		for _, k := range issuer.PublicKeys() {
			if k.KeyID == kid {
				return k.PublicKey, nil
			}
		}
		return nil, jwt.ErrTokenUnverifiable
	})
	require.NoError(t, err)
	return parsed
}

func TestIssuer_Sign(t *testing.T) {
	t.Parallel()

	issuer, err := NewIssuer(slog.Default(), WithKeyBits(1024))
	require.NoError(t, err)

	t.Run("token carries the active key id", func(t *testing.T) {
		token, err := issuer.Sign(jwt.MapClaims{"sub": "alice"})
		require.NoError(t, err)

		parsed := verifyWith(t, issuer, token)
		require.Equal(t, issuer.ActiveKeyID(), parsed.Header["kid"])
	})

	t.Run("signing an encoded payload", func(t *testing.T) {
		payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"bob"}`))

		header, signature, err := issuer.SignEncoded(payload)
		require.NoError(t, err)

		parsed := verifyWith(t, issuer, header+"."+payload+"."+signature)
		require.Equal(t, issuer.ActiveKeyID(), parsed.Header["kid"])
		require.Equal(t, "bob", parsed.Claims.(jwt.MapClaims)["sub"])
	})

	t.Run("kid header can be omitted", func(t *testing.T) {
		token, err := issuer.SignWithKeyID(jwt.MapClaims{"sub": "alice"}, "")
		require.NoError(t, err)

		parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
		require.NoError(t, err)
		require.NotContains(t, parsed.Header, "kid")
	})
}

func TestIssuer_Rotate(t *testing.T) {
	t.Parallel()

	issuer, err := NewIssuer(slog.Default(), WithKeyBits(1024), WithMaxKeys(2))
	require.NoError(t, err)
	first := issuer.ActiveKeyID()

	second, err := issuer.Rotate()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.Len(t, issuer.PublicKeys(), 2)

	third, err := issuer.Rotate()
	require.NoError(t, err)

	var ids []string
	for _, k := range issuer.PublicKeys() {
		ids = append(ids, k.KeyID)
	}
	require.Equal(t, []string{second, third}, ids)
}

func TestIssuer_JWKS(t *testing.T) {
	t.Parallel()

	issuer, err := NewIssuer(slog.Default(), WithKeyBits(1024))
	require.NoError(t, err)

	body, err := issuer.JWKS()
	require.NoError(t, err)

	set, err := jwxjwk.Parse(body)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	key, ok := set.LookupKeyID(issuer.ActiveKeyID())
	require.True(t, ok)
	require.Equal(t, "sig", key.KeyUsage())
}

func TestSignerServer_FetchKeys(t *testing.T) {
	t.Parallel()

	issuer, err := NewIssuer(slog.Default(), WithKeyBits(1024))
	require.NoError(t, err)

	conn := DialSignerServer(t, NewSignerServer(slog.Default(), issuer, time.Hour))
	client := v1.NewExternalJWTSignerClient(conn)

	resp, err := client.FetchKeys(context.Background(), &v1.FetchKeysRequest{})
	require.NoError(t, err)
	require.Len(t, resp.GetKeys(), 1)
	require.Equal(t, issuer.ActiveKeyID(), resp.GetKeys()[0].GetKeyId())

	meta, err := client.Metadata(context.Background(), &v1.MetadataRequest{})
	require.NoError(t, err)
	require.Equal(t, int64(3600), meta.GetMaxTokenExpirationSeconds())
}
