// ABOUTME: Tests for the registration state machine
// ABOUTME: Exercises stage transitions, wallet creation, and retry behavior

package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/challenge"
	"github.com/revibase/passkey-popup/internal/passkeydb"
	"github.com/revibase/passkey-popup/internal/payer"
)

// testDERSignature is a minimal valid DER ECDSA signature (r=1, s=1).
var testDERSignature = []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x01}

func testRegistered() *RegistrationResult {
	return &RegistrationResult{
		CredentialID: "Y3JlZC0x",
		RawResponse:  json.RawMessage(`{"id":"Y3JlZC0x"}`),
		Transports:   []string{"internal"},
	}
}

func testWalletAssertion() *AssertionResult {
	return &AssertionResult{
		CredentialID:      "Y3JlZC0x",
		RawResponse:       json.RawMessage(`{"id":"Y3JlZC0x"}`),
		AuthenticatorData: make([]byte, 37),
		ClientDataJSON:    []byte(`{"type":"webauthn.get"}`),
		Signature:         testDERSignature,
	}
}

// registrationDB stubs the storage endpoint: GET with challenge=true serves
// a challenge, POST persists and echoes the stored record.
func registrationDB(t *testing.T, registerCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Query().Get("challenge") == "true":
			_, _ = w.Write([]byte(`{"challenge":"cmVnLWNoYWxsZW5nZQ"}`))
		case r.Method == http.MethodPost:
			registerCalls.Add(1)
			_, _ = w.Write([]byte(`{"credentialId":"Y3JlZC0x","username":"alice","publicKey":"` + testMemberKey() + `"}`))
		default:
			t.Errorf("unexpected storage request %s %s", r.Method, r.URL)
		}
	}))
}

// testMemberKey is a base58 compressed secp256r1 key fixture.
func testMemberKey() string {
	raw := make([]byte, 33)
	raw[0] = 0x02
	for i := 1; i < 33; i++ {
		raw[i] = 0xab
	}
	return base58.Encode(raw)
}

// chainStub answers the RPC methods wallet creation needs.
func chainStub(t *testing.T) *httptest.Server {
	t.Helper()
	sysvar := make([]byte, 48)
	sysvar[8] = 42
	for i := 16; i < 48; i++ {
		sysvar[i] = 0xaa
	}
	blockhash := base58.Encode(make([]byte, 32))

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result string
		switch req.Method {
		case "getAccountInfo":
			result = `{"value":{"data":["` + base64.StdEncoding.EncodeToString(sysvar) + `","base64"]}}`
		case "getLatestBlockhash":
			result = `{"value":{"blockhash":"` + blockhash + `","lastValidBlockHeight":1}}`
		case "sendTransaction":
			result = `"5igN1"`
		case "getSignatureStatuses":
			result = `{"value":[{"confirmationStatus":"confirmed","err":null}]}`
		default:
			t.Errorf("unexpected rpc method %q", req.Method)
			result = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"popup","result":` + result + `}`))
	}))
}

// payerStub serves a fee payer and signs transactions, failing the first
// failSigns sign requests.
func payerStub(t *testing.T, failSigns int) *httptest.Server {
	t.Helper()
	feePayer := base58.Encode(sequentialBytes(32))
	signature := base58.Encode(sequentialBytes(64))
	var signCalls atomic.Int32

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sign":
			if int(signCalls.Add(1)) <= failSigns {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("payer busy"))
				return
			}
			_, _ = w.Write([]byte(`{"signatures":["` + signature + `"]}`))
		default:
			_, _ = w.Write([]byte(`"` + feePayer + `"`))
		}
	}))
}

// payerSessionStub is payerStub plus the /verify bot-protection endpoint.
// Sign requests are rejected unless they present the issued session token.
func payerSessionStub(t *testing.T, failSigns int, verifyCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	feePayer := base58.Encode(sequentialBytes(32))
	signature := base58.Encode(sequentialBytes(64))
	token := signedSessionToken(t)
	var signCalls atomic.Int32

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verify":
			verifyCalls.Add(1)
			_, _ = w.Write([]byte(`{"token":"` + token + `","signature":"payer-sig"}`))
		case "/sign":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["sessionToken"] != token {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte("session proof required"))
				return
			}
			if int(signCalls.Add(1)) <= failSigns {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("payer busy"))
				return
			}
			_, _ = w.Write([]byte(`{"signatures":["` + signature + `"]}`))
		default:
			_, _ = w.Write([]byte(`"` + feePayer + `"`))
		}
	}))
}

func signedSessionToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "session-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("payer-secret"))
	require.NoError(t, err)
	return token
}

func sequentialBytes(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i + 1)
	}
	return out
}

func newTestRegistration(t *testing.T, authn Authenticator, dbURL, rpcURL, payerURL string, createWallet bool) *Registration {
	t.Helper()
	return newTestRegistrationWithParams(t, authn, dbURL, rpcURL, payerURL,
		RegistrationParams{Username: "alice", ShouldCreateWallet: createWallet})
}

func newTestRegistrationWithParams(t *testing.T, authn Authenticator, dbURL, rpcURL, payerURL string, params RegistrationParams) *Registration {
	t.Helper()
	var rpc *chain.Client
	if rpcURL != "" {
		rpc = chain.NewClient(rpcURL, "", testLogger())
	}
	var payers *payer.Client
	if payerURL != "" {
		payers = payer.NewClient(payerURL, testLogger())
	}
	return NewRegistration(
		passkeydb.NewClient(dbURL, testLogger()),
		challenge.NewBuilder(slotFetcher{}, testLogger()),
		authn,
		rpc,
		payers,
		testRP,
		params,
		testLogger(),
	)
}

func TestRegister_CompleteWithoutWallet(t *testing.T) {
	var registerCalls atomic.Int32
	db := registrationDB(t, &registerCalls)
	defer db.Close()

	authn := &fakeAuthenticator{created: testRegistered()}
	reg := newTestRegistration(t, authn, db.URL, "", "", false)

	require.NoError(t, reg.Register(context.Background()))
	assert.Equal(t, StageComplete, reg.Stage())

	var result struct {
		PublicKey    string          `json:"publicKey"`
		Username     string          `json:"username"`
		AuthResponse json.RawMessage `json:"authResponse"`
	}
	require.NoError(t, json.Unmarshal([]byte(reg.Response()), &result))
	assert.Equal(t, "alice", result.Username)
	assert.Equal(t, testMemberKey(), result.PublicKey)
	assert.JSONEq(t, `{"id":"Y3JlZC0x"}`, string(result.AuthResponse))

	// The creation options carry the flow's fixed ceremony parameters.
	require.Len(t, authn.createOptions, 1)
	options := authn.createOptions[0]
	assert.Equal(t, testRP.ID, options.RelyingParty.ID)
	assert.Equal(t, []byte("reg-challenge"), []byte(options.Challenge))
	require.Len(t, options.Parameters, 2)
	assert.Equal(t, webauthncose.AlgES256, options.Parameters[0].Algorithm)
	assert.Equal(t, webauthncose.AlgRS256, options.Parameters[1].Algorithm)
}

func TestRegister_WalletPromptWhenRequested(t *testing.T) {
	var registerCalls atomic.Int32
	db := registrationDB(t, &registerCalls)
	defer db.Close()

	authn := &fakeAuthenticator{created: testRegistered()}
	reg := newTestRegistration(t, authn, db.URL, "", "", true)

	require.NoError(t, reg.Register(context.Background()))
	assert.Equal(t, StageWalletPrompt, reg.Stage())
	assert.Empty(t, reg.Response())
}

func TestRegister_ChallengeFailureSurfacesBody(t *testing.T) {
	db := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("username already taken"))
	}))
	defer db.Close()

	authn := &fakeAuthenticator{}
	reg := newTestRegistration(t, authn, db.URL, "", "", false)

	require.Error(t, reg.Register(context.Background()))
	assert.Equal(t, StageRegistrationError, reg.Stage())
	assert.Contains(t, reg.Err(), "username already taken")
	assert.Empty(t, authn.createOptions)

	// Retrying a failed registration starts over from input.
	require.NoError(t, reg.Retry(context.Background()))
	assert.Equal(t, StageInput, reg.Stage())
	assert.Empty(t, reg.Err())
}

func TestCreateWallet_Complete(t *testing.T) {
	var registerCalls atomic.Int32
	db := registrationDB(t, &registerCalls)
	defer db.Close()
	rpc := chainStub(t)
	defer rpc.Close()
	payers := payerStub(t, 0)
	defer payers.Close()

	authn := &fakeAuthenticator{created: testRegistered(), assertion: testWalletAssertion()}
	reg := newTestRegistration(t, authn, db.URL, rpc.URL, payers.URL, true)

	require.NoError(t, reg.Register(context.Background()))
	require.NoError(t, reg.CreateWallet(context.Background()))
	assert.Equal(t, StageComplete, reg.Stage())
	assert.NotEmpty(t, reg.Response())

	// The wallet assertion is pinned to the just-created credential.
	require.Len(t, authn.assertOptions, 1)
	allowed := authn.assertOptions[0].AllowedCredentials
	require.Len(t, allowed, 1)
	assert.Equal(t, []byte("cred-1"), []byte(allowed[0].CredentialID))

	// The challenge signs over the relying party id as the member context.
	assert.Len(t, []byte(authn.assertOptions[0].Challenge), 32)
}

func TestCreateWallet_RetryDoesNotReregister(t *testing.T) {
	var registerCalls atomic.Int32
	db := registrationDB(t, &registerCalls)
	defer db.Close()
	rpc := chainStub(t)
	defer rpc.Close()
	payers := payerStub(t, 1)
	defer payers.Close()

	authn := &fakeAuthenticator{created: testRegistered(), assertion: testWalletAssertion()}
	reg := newTestRegistration(t, authn, db.URL, rpc.URL, payers.URL, true)

	require.NoError(t, reg.Register(context.Background()))

	require.Error(t, reg.CreateWallet(context.Background()))
	assert.Equal(t, StageWalletError, reg.Stage())
	assert.Contains(t, reg.Err(), "payer busy")

	require.NoError(t, reg.Retry(context.Background()))
	assert.Equal(t, StageComplete, reg.Stage())
	assert.Equal(t, int32(1), registerCalls.Load())
}

func TestCreateWallet_SessionGate(t *testing.T) {
	var registerCalls, verifyCalls atomic.Int32
	db := registrationDB(t, &registerCalls)
	defer db.Close()
	rpc := chainStub(t)
	defer rpc.Close()
	payers := payerSessionStub(t, 1, &verifyCalls)
	defer payers.Close()

	authn := &fakeAuthenticator{created: testRegistered(), assertion: testWalletAssertion()}
	reg := newTestRegistrationWithParams(t, authn, db.URL, rpc.URL, payers.URL, RegistrationParams{
		Username:           "alice",
		ShouldCreateWallet: true,
		TurnstileResponse:  "ts-1",
	})

	require.NoError(t, reg.Register(context.Background()))
	require.Error(t, reg.CreateWallet(context.Background()))
	assert.Equal(t, StageWalletError, reg.Stage())
	assert.Contains(t, reg.Err(), "payer busy")

	require.NoError(t, reg.Retry(context.Background()))
	assert.Equal(t, StageComplete, reg.Stage())

	// One verification covers both attempts: the turnstile response is
	// single-use, the verified session is not.
	assert.Equal(t, int32(1), verifyCalls.Load())
}

func TestCreateWallet_BotCheckFailureSurfaces(t *testing.T) {
	var registerCalls atomic.Int32
	db := registrationDB(t, &registerCalls)
	defer db.Close()
	payers := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/verify", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("bot check failed"))
	}))
	defer payers.Close()

	authn := &fakeAuthenticator{created: testRegistered(), assertion: testWalletAssertion()}
	reg := newTestRegistrationWithParams(t, authn, db.URL, "", payers.URL, RegistrationParams{
		Username:           "alice",
		ShouldCreateWallet: true,
		TurnstileResponse:  "ts-1",
	})

	require.NoError(t, reg.Register(context.Background()))
	require.Error(t, reg.CreateWallet(context.Background()))
	assert.Equal(t, StageWalletError, reg.Stage())
	assert.Contains(t, reg.Err(), "bot check failed")
}

func TestCreateWallet_WithoutRegistrationFails(t *testing.T) {
	authn := &fakeAuthenticator{}
	reg := newTestRegistration(t, authn, "http://unused.invalid", "", "", true)

	require.Error(t, reg.CreateWallet(context.Background()))
	assert.Equal(t, StageWalletError, reg.Stage())
}

func TestRetry_OutsideErrorStages(t *testing.T) {
	authn := &fakeAuthenticator{}
	reg := newTestRegistration(t, authn, "http://unused.invalid", "", "", false)
	assert.ErrorIs(t, reg.Retry(context.Background()), ErrNothingToRetry)
}
