package keytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/lestrrat-go/jwx/v2/jwa"
	jwxjwk "github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKS encodes the published keys as a JWKS document.
func (i *Issuer) JWKS() ([]byte, error) {
	set := jwxjwk.NewSet()
	for _, k := range i.PublicKeys() {
		key, err := jwxjwk.FromRaw(k.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to build JWK for %s: %w", k.KeyID, err)
		}
		if err := key.Set(jwxjwk.KeyIDKey, k.KeyID); err != nil {
			return nil, err
		}
		if err := key.Set(jwxjwk.KeyUsageKey, "sig"); err != nil {
			return nil, err
		}
		if err := key.Set(jwxjwk.AlgorithmKey, jwa.RS256); err != nil {
			return nil, err
		}
		if err := set.AddKey(key); err != nil {
			return nil, err
		}
	}
	return json.Marshal(set)
}

// JWKSServer serves an issuer's JWKS and counts the requests it receives.
type JWKSServer struct {
	*httptest.Server

	issuer   *Issuer
	requests atomic.Int64
	status   atomic.Int32
	body     atomic.Pointer[[]byte]
	lastAuth atomic.Pointer[string]
}

func NewJWKSServer(issuer *Issuer) *JWKSServer {
	s := &JWKSServer{issuer: issuer}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

func (s *JWKSServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	auth := r.Header.Get("Authorization")
	s.lastAuth.Store(&auth)

	if code := s.status.Load(); code != 0 {
		http.Error(w, http.StatusText(int(code)), int(code))
		return
	}

	var body []byte
	if override := s.body.Load(); override != nil {
		body = *override
	} else {
		var err error
		body, err = s.issuer.JWKS()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *JWKSServer) Requests() int64 {
	return s.requests.Load()
}

// LastAuthorization is the Authorization header of the latest request.
func (s *JWKSServer) LastAuthorization() string {
	if auth := s.lastAuth.Load(); auth != nil {
		return *auth
	}
	return ""
}

// FailWith makes every following request answer with code. Zero restores
// normal responses.
func (s *JWKSServer) FailWith(code int) {
	s.status.Store(int32(code))
}

// ServeBody replaces the issuer's JWKS with a fixed response body. Nil
// restores the issuer's keys.
func (s *JWKSServer) ServeBody(body []byte) {
	if body == nil {
		s.body.Store(nil)
		return
	}
	s.body.Store(&body)
}
