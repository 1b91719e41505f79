package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotrelay/server/internal/auth"
	"github.com/cotrelay/server/internal/presence"
)

func selfSigned(t *testing.T, cn string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func testStore(t *testing.T) *auth.MemoryStore {
	t.Helper()
	store := auth.NewMemoryStore()
	require.NoError(t, store.Add("alice", "secret", true))
	require.NoError(t, store.Add("mallory", "secret", false))
	return store
}

// startTLS runs a session behind TLS. clientCN selects a client
// certificate; "" sends none. A nil store leaves the session without one.
func startTLS(t *testing.T, clientCN string, store auth.Store) *harness {
	t.Helper()
	serverPipe, clientPipe := net.Pipe()

	serverCfg := &tls.Config{
		Certificates:           []tls.Certificate{selfSigned(t, "cotrelay")},
		ClientAuth:             tls.RequestClientCert,
		SessionTicketsDisabled: true,
	}
	clientCfg := &tls.Config{InsecureSkipVerify: true}
	if clientCN != "" {
		clientCfg.Certificates = []tls.Certificate{selfSigned(t, clientCN)}
	}

	h := startOn(t, tls.Server(serverPipe, serverCfg), tls.Client(clientPipe, clientCfg),
		newFakeBus(), presence.New(4, nil, nil), NewRegistry(),
		func(d *Deps, _ *Config) {
			d.Auth = store
		})
	// drives the client handshake and absorbs close_notify
	go func() { _, _ = io.Copy(io.Discard, h.client) }()
	return h
}

func TestTLS_InBandAuth(t *testing.T) {
	h := startTLS(t, "", testStore(t))

	h.send(`<auth><cot username="alice" password="secret"/></auth>`)
	h.send(markerDoc("m-1"))

	msgs := h.waitIngested(1)
	assert.Contains(t, string(msgs[0].Data), `uid="m-1"`)
	assert.Equal(t, Active, h.sess.State())
}

func TestTLS_InBandAuthRejected(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"bad password", `<auth><cot username="alice" password="wrong"/></auth>`},
		{"unknown user", `<auth><cot username="bob" password="secret"/></auth>`},
		{"inactive user", `<auth><cot username="mallory" password="secret"/></auth>`},
		{"document first", markerDoc("m-1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startTLS(t, "", testStore(t))
			h.send(tt.doc)

			err := h.wait()
			assert.ErrorIs(t, err, ErrAuthentication)
			assert.Empty(t, h.bus.ingestedMessages())
		})
	}
}

func TestTLS_DocumentWithoutIdentityRefused(t *testing.T) {
	tests := []struct {
		name     string
		clientCN string
	}{
		{"no certificate", ""},
		{"unknown certificate", "stranger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := startTLS(t, tt.clientCN, testStore(t))
			_, _ = h.client.Write([]byte(markerDoc("m-1")))

			err := h.wait()
			assert.ErrorIs(t, err, ErrAuthentication)
			assert.Empty(t, h.bus.ingestedMessages())
			assert.Equal(t, Closed, h.sess.State())
		})
	}
}

func TestTLS_PingBeforeCredentialsRefused(t *testing.T) {
	h := startTLS(t, "", testStore(t))
	_, _ = h.client.Write([]byte(pingDoc("ANDROID-1-ping")))

	assert.ErrorIs(t, h.wait(), ErrAuthentication)
}

func TestTLS_NoPrincipalStoreRefused(t *testing.T) {
	h := startTLS(t, "alice", nil)
	_, _ = h.client.Write([]byte(markerDoc("m-1")))

	err := h.wait()
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, auth.ErrUnknownPrincipal)
	assert.Empty(t, h.bus.ingestedMessages())
}

func TestTLS_ClientCertificate(t *testing.T) {
	h := startTLS(t, "alice", testStore(t))
	h.send(markerDoc("m-1"))
	h.waitIngested(1)
	assert.Equal(t, Active, h.sess.State())
}

func TestTLS_InactiveClientCertificate(t *testing.T) {
	h := startTLS(t, "mallory", testStore(t))
	// the handshake completes on the first write; the session then refuses
	_, _ = h.client.Write([]byte(markerDoc("m-1")))

	err := h.wait()
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.ErrorIs(t, err, auth.ErrInactivePrincipal)
	assert.Empty(t, h.bus.ingestedMessages())
}

func TestTLS_UnknownCertificateFallsBackToAuth(t *testing.T) {
	h := startTLS(t, "stranger", testStore(t))
	h.send(`<auth><cot username="alice" password="secret"/></auth>`)
	h.send(markerDoc("m-1"))
	h.waitIngested(1)
	assert.Equal(t, Active, h.sess.State())
}
