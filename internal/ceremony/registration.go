// ABOUTME: Registration state machine covering passkey creation and wallet setup
// ABOUTME: Stages advance through register, optional wallet creation, and retry

package ceremony

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/mr-tron/base58"

	"github.com/revibase/passkey-popup/internal/chain"
	"github.com/revibase/passkey-popup/internal/challenge"
	"github.com/revibase/passkey-popup/internal/config"
	"github.com/revibase/passkey-popup/internal/passkeydb"
	"github.com/revibase/passkey-popup/internal/payer"
	"github.com/revibase/passkey-popup/internal/txparse"
	"github.com/revibase/passkey-popup/internal/wallet"
)

// Stage is the registration flow's current position.
type Stage string

const (
	StageInput             Stage = "input"
	StageRegistering       Stage = "registering"
	StageWalletPrompt      Stage = "wallet-prompt"
	StageCreating          Stage = "creating"
	StageComplete          Stage = "complete"
	StageRegistrationError Stage = "registration-error"
	StageWalletError       Stage = "wallet-error"
)

// ErrNothingToRetry indicates Retry was called outside an error stage.
var ErrNothingToRetry = errors.New("no failed step to retry")

// RegistrationParams are the opener-provided inputs to a registration flow.
type RegistrationParams struct {
	Username           string
	Message            string
	Hints              []protocol.PublicKeyCredentialHints
	ShouldCreateWallet bool

	// TurnstileResponse is the bot-protection challenge response presented
	// to the payer service before it signs. Turnstile responses are
	// single-use; the verified session is cached for retries.
	TurnstileResponse string
}

// walletArgs is the registration output carried into wallet creation, so a
// failed creation can retry without repeating the registration ceremony.
type walletArgs struct {
	publicKey    string
	credentialID string
	transports   []string
	authResponse json.RawMessage
}

// Registration drives one user through passkey registration and, when
// requested, on-chain wallet creation.
type Registration struct {
	db         *passkeydb.Client
	challenges *challenge.Builder
	authn      Authenticator
	rpc        *chain.Client
	payers     *payer.Client
	rp         config.RelyingPartyConfig
	params     RegistrationParams
	logger     *slog.Logger

	mu       sync.Mutex
	stage    Stage
	lastErr  string
	response string
	wallet   *walletArgs
	session  *payer.SessionToken
}

// NewRegistration creates a registration flow at the input stage.
func NewRegistration(db *passkeydb.Client, challenges *challenge.Builder, authn Authenticator, rpc *chain.Client, payers *payer.Client, rp config.RelyingPartyConfig, params RegistrationParams, logger *slog.Logger) *Registration {
	return &Registration{
		db:         db,
		challenges: challenges,
		authn:      authn,
		rpc:        rpc,
		payers:     payers,
		rp:         rp,
		params:     params,
		logger:     logger,
		stage:      StageInput,
	}
}

// Stage returns the current stage.
func (r *Registration) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Err returns the last recorded error message, empty when none.
func (r *Registration) Err() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Response returns the serialized registration result once complete.
func (r *Registration) Response() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

func (r *Registration) setStage(stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
	r.lastErr = ""
}

func (r *Registration) fail(stage Stage, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
	r.lastErr = err.Error()
	return err
}

// Register runs the passkey registration ceremony: fetch a challenge from
// storage, create the credential, persist it, then either prompt for wallet
// creation or complete with the serialized result.
func (r *Registration) Register(ctx context.Context) error {
	r.setStage(StageRegistering)

	challengeText, err := r.db.RegistrationChallenge(ctx, r.params.Username, r.params.Message)
	if err != nil {
		return r.fail(StageRegistrationError, err)
	}
	challengeBytes, err := base64.RawURLEncoding.DecodeString(challengeText)
	if err != nil {
		return r.fail(StageRegistrationError, fmt.Errorf("decoding registration challenge: %w", err))
	}

	created, err := r.authn.CreateCredential(ctx, protocol.PublicKeyCredentialCreationOptions{
		RelyingParty: protocol.RelyingPartyEntity{
			CredentialEntity: protocol.CredentialEntity{Name: r.rp.Name},
			ID:               r.rp.ID,
		},
		User: protocol.UserEntity{
			CredentialEntity: protocol.CredentialEntity{Name: r.params.Username},
			DisplayName:      r.params.Username,
			ID:               protocol.URLEncodedBase64(r.params.Username),
		},
		Challenge: challengeBytes,
		Parameters: []protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
		},
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification:   protocol.VerificationDiscouraged,
			RequireResidentKey: protocol.ResidentKeyRequired(),
			ResidentKey:        protocol.ResidentKeyRequirementRequired,
		},
		Hints: r.params.Hints,
	})
	if err != nil {
		return r.fail(StageRegistrationError, err)
	}

	record, err := r.db.Create(ctx, r.params.Username, created.RawResponse)
	if err != nil {
		return r.fail(StageRegistrationError, err)
	}

	if r.params.ShouldCreateWallet {
		r.mu.Lock()
		r.wallet = &walletArgs{
			publicKey:    record.PublicKey,
			credentialID: created.CredentialID,
			transports:   created.Transports,
			authResponse: created.RawResponse,
		}
		r.mu.Unlock()
		r.setStage(StageWalletPrompt)
		return nil
	}

	return r.complete(record.PublicKey, created.RawResponse)
}

// CreateWallet derives a fresh wallet from the just-created credential: a
// random create key fixes the settings address, the user asserts over a
// slot-anchored add-member challenge, and the payer service funds, signs,
// and submits the create transaction.
func (r *Registration) CreateWallet(ctx context.Context) error {
	r.mu.Lock()
	args := r.wallet
	r.mu.Unlock()
	if args == nil {
		return r.fail(StageWalletError, errors.New("missing registration response"))
	}

	r.setStage(StageCreating)

	var createKey [32]byte
	if _, err := rand.Read(createKey[:]); err != nil {
		return r.fail(StageWalletError, fmt.Errorf("generating create key: %w", err))
	}

	settings, _, err := wallet.SettingsAddress(createKey)
	if err != nil {
		return r.fail(StageWalletError, err)
	}

	ch, err := r.challenges.Build(ctx, txparse.KindAddNewMember, settings, []byte(r.rp.ID))
	if err != nil {
		return r.fail(StageWalletError, err)
	}

	assertion, err := r.assertNewCredential(ctx, args, ch.Bytes[:])
	if err != nil {
		return r.fail(StageWalletError, err)
	}

	member, err := r.buildMember(args.publicKey, assertion, ch)
	if err != nil {
		return r.fail(StageWalletError, err)
	}

	if err := r.submitCreateWallet(ctx, createKey, member); err != nil {
		return r.fail(StageWalletError, err)
	}

	return r.complete(args.publicKey, args.authResponse)
}

// assertNewCredential runs an assertion restricted to the credential created
// moments ago.
func (r *Registration) assertNewCredential(ctx context.Context, args *walletArgs, challengeBytes []byte) (*AssertionResult, error) {
	id, err := base64.RawURLEncoding.DecodeString(args.credentialID)
	if err != nil {
		return nil, fmt.Errorf("decoding credential id: %w", err)
	}

	var transports []protocol.AuthenticatorTransport
	for _, t := range args.transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return r.authn.GetAssertion(ctx, protocol.PublicKeyCredentialRequestOptions{
		RelyingPartyID: r.rp.ID,
		Challenge:      protocol.URLEncodedBase64(challengeBytes),
		AllowedCredentials: []protocol.CredentialDescriptor{{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: protocol.URLEncodedBase64(id),
			Transport:    transports,
		}},
	})
}

// buildMember packages the assertion into the wallet program's initial
// member: compressed key plus the verification material the program checks
// on chain.
func (r *Registration) buildMember(publicKey string, assertion *AssertionResult, ch *challenge.Challenge) (*wallet.Secp256r1Key, error) {
	if len(assertion.AuthenticatorData) < 32 {
		return nil, errors.New("assertion returned truncated authenticator data")
	}
	var rpIDHash [32]byte
	copy(rpIDHash[:], assertion.AuthenticatorData[:32])

	domainConfig, _, err := wallet.DomainConfigAddress(rpIDHash)
	if err != nil {
		return nil, err
	}

	signature, err := wallet.ConvertSignatureDERToRS(assertion.Signature)
	if err != nil {
		return nil, err
	}

	slotNumber, err := strconv.ParseUint(ch.SlotNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid slot number %q: %w", ch.SlotNumber, err)
	}
	slotHashRaw, err := base58.Decode(ch.SlotHash)
	if err != nil || len(slotHashRaw) != 32 {
		return nil, fmt.Errorf("invalid slot hash %q", ch.SlotHash)
	}
	var slotHash [32]byte
	copy(slotHash[:], slotHashRaw)

	return wallet.NewSecp256r1Key(publicKey, &wallet.VerifyArgs{
		ClientDataJSON: assertion.ClientDataJSON,
		AuthData:       assertion.AuthenticatorData,
		SlotNumber:     slotNumber,
		SlotHash:       slotHash,
		Signature:      signature,
		DomainConfig:   domainConfig,
	})
}

// payerSession exchanges the turnstile response for a session token. Without
// a response none is presented; the payer rejects the sign request if it
// demands one. A previously verified session is reused across retries until
// it expires.
func (r *Registration) payerSession(ctx context.Context) (*payer.SessionToken, error) {
	r.mu.Lock()
	cached := r.session
	r.mu.Unlock()
	if cached != nil && !cached.Expired(time.Now()) {
		return cached, nil
	}

	if r.params.TurnstileResponse == "" {
		return nil, nil
	}

	session, err := r.payers.VerifySession(ctx, r.params.TurnstileResponse)
	if err != nil {
		return nil, err
	}
	if session.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: session token already expired", payer.ErrNoSession)
	}
	if subject, err := session.Subject(); err == nil {
		r.logger.Debug("payer session verified", "subject", subject)
	}

	r.mu.Lock()
	r.session = session
	r.mu.Unlock()
	return session, nil
}

// submitCreateWallet assembles, payer-signs, submits, and confirms the
// create-wallet transaction.
func (r *Registration) submitCreateWallet(ctx context.Context, createKey [32]byte, member *wallet.Secp256r1Key) error {
	session, err := r.payerSession(ctx)
	if err != nil {
		return err
	}

	feePayerText, err := r.payers.RandomPayer(ctx)
	if err != nil {
		return err
	}
	feePayer, err := chain.ParseAddress(feePayerText)
	if err != nil {
		return fmt.Errorf("payer service returned %q: %w", feePayerText, err)
	}

	blockhash, err := r.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return err
	}

	message, err := wallet.BuildCreateWallet(wallet.CreateWalletParams{
		CreateKey:       createKey,
		FeePayer:        feePayer,
		InitialMember:   member,
		RecentBlockhash: blockhash.Hash,
	})
	if err != nil {
		return err
	}

	signatures, err := r.payers.Sign(ctx, feePayerText, [][]byte{message}, session)
	if err != nil {
		return err
	}
	wireTx, err := wallet.AssembleTransaction(message, signatures)
	if err != nil {
		return err
	}

	txSignature, err := r.rpc.SendTransaction(ctx, wireTx)
	if err != nil {
		return err
	}
	if err := r.rpc.ConfirmSignature(ctx, txSignature); err != nil {
		return err
	}

	r.logger.Info("wallet created", "signature", txSignature)
	return nil
}

// Retry re-runs the failed step: wallet creation retries without repeating
// registration, registration errors restart from input.
func (r *Registration) Retry(ctx context.Context) error {
	switch r.Stage() {
	case StageWalletError:
		return r.CreateWallet(ctx)
	case StageRegistrationError:
		r.setStage(StageInput)
		return nil
	default:
		return ErrNothingToRetry
	}
}

func (r *Registration) complete(publicKey string, authResponse json.RawMessage) error {
	result, err := json.Marshal(map[string]json.RawMessage{
		"publicKey":    mustJSON(publicKey),
		"username":     mustJSON(r.params.Username),
		"authResponse": authResponse,
	})
	if err != nil {
		return r.fail(StageWalletError, err)
	}

	r.mu.Lock()
	r.response = string(result)
	r.stage = StageComplete
	r.lastErr = ""
	r.mu.Unlock()
	return nil
}

func mustJSON(s string) json.RawMessage {
	out, _ := json.Marshal(s)
	return out
}
