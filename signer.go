package x402

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// defaultValidityWindow bounds how long a signed authorization stays
// acceptable when the requirement does not carry its own timeout.
const defaultValidityWindow = time.Hour

// PaymentSigner signs x402 payment authorizations
type PaymentSigner interface {
	// SignPayment signs a payment authorization for the given requirement
	SignPayment(ctx context.Context, req PaymentRequirement) (*PaymentPayload, error)

	// GetAddress returns the signer's address
	GetAddress() string

	// SupportsNetwork returns true if the signer can sign for the given network
	SupportsNetwork(network string) bool
}

// PrivateKeySigner signs with a raw private key
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewPrivateKeySigner creates a signer from a hex-encoded private key
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKeyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	privateKey, err := crypto.ToECDSA(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	return &PrivateKeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

func (s *PrivateKeySigner) GetAddress() string {
	return s.address.Hex()
}

func (s *PrivateKeySigner) SupportsNetwork(network string) bool {
	_, err := GetChainID(network)
	return err == nil
}

// newNonce returns a fresh cryptographically random 32-byte nonce.
// A nonce is generated per signature and must never be reused; it is
// both the replay guard and the identity of the payment.
func newNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(nonce[:]), nil
}

func (s *PrivateKeySigner) SignPayment(ctx context.Context, req PaymentRequirement) (*PaymentPayload, error) {
	chainID, err := GetChainID(req.Network)
	if err != nil {
		return nil, err
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	// validAfter 0 means immediately valid; validBefore bounds the
	// retry window on the server side.
	validAfter := int64(0)
	window := defaultValidityWindow
	if req.MaxTimeoutSeconds > 0 {
		window = time.Duration(req.MaxTimeoutSeconds) * time.Second
	}
	validBefore := time.Now().Add(window).Unix()

	value := new(big.Int)
	if _, ok := value.SetString(req.MaxAmountRequired, 10); !ok {
		return nil, fmt.Errorf("%w: bad amount %q", ErrInvalidPaymentReqs, req.MaxAmountRequired)
	}

	typedData := TransferWithAuthorizationTypedData(
		chainID, req.Asset, req.Extra["name"], req.Extra["version"],
		apitypes.TypedDataMessage{
			"from":        s.address.Hex(),
			"to":          common.HexToAddress(req.PayTo).Hex(),
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(big.NewInt(validAfter)),
			"validBefore": (*math.HexOrDecimal256)(big.NewInt(validBefore)),
			"nonce":       nonce,
		},
	)

	sigHash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	signature, err := crypto.Sign(sigHash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	// Adjust V value for Ethereum signature standard
	signature[64] += 27

	return &PaymentPayload{
		X402Version: 1,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: PaymentPayloadData{
			Signature: "0x" + hex.EncodeToString(signature),
			Authorization: PaymentAuthorization{
				From:        s.address.Hex(),
				To:          req.PayTo,
				Value:       req.MaxAmountRequired,
				ValidAfter:  strconv.FormatInt(validAfter, 10),
				ValidBefore: strconv.FormatInt(validBefore, 10),
				Nonce:       nonce,
			},
		},
	}, nil
}

// TransferWithAuthorizationTypedData builds the EIP-712 structure for an
// EIP-3009 TransferWithAuthorization message. The domain is the payment
// asset contract itself.
func TransferWithAuthorizationTypedData(chainID *big.Int, asset, tokenName, tokenVersion string, message apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              tokenName,
			Version:           tokenVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: asset,
		},
		Message: message,
	}
}

// derivePrivateKey derives a private key from a seed using BIP-32 HD derivation
func derivePrivateKey(seed []byte, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	key := masterKey
	for _, n := range path {
		key, err = key.NewChildKey(n)
		if err != nil {
			return nil, fmt.Errorf("failed to derive child key: %w", err)
		}
	}

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to convert to ECDSA key: %w", err)
	}

	return privateKey, nil
}

// MnemonicSigner signs with a key derived from a mnemonic phrase
type MnemonicSigner struct {
	*PrivateKeySigner
}

// NewMnemonicSigner creates a signer from a BIP-39 mnemonic phrase
func NewMnemonicSigner(mnemonic string, derivationPath string) (*MnemonicSigner, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}

	if derivationPath == "" {
		derivationPath = "m/44'/60'/0'/0/0" // Default Ethereum path
	}

	path, err := accounts.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path: %w", err)
	}

	seed := bip39.NewSeed(mnemonic, "")

	privateKey, err := derivePrivateKey(seed, path)
	if err != nil {
		return nil, fmt.Errorf("failed to derive private key: %w", err)
	}

	return &MnemonicSigner{
		PrivateKeySigner: &PrivateKeySigner{
			privateKey: privateKey,
			address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		},
	}, nil
}

// KeystoreSigner signs with a key from an encrypted keystore file
type KeystoreSigner struct {
	*PrivateKeySigner
}

// NewKeystoreSigner creates a signer from an encrypted keystore JSON
func NewKeystoreSigner(keystoreJSON []byte, password string) (*KeystoreSigner, error) {
	key, err := keystore.DecryptKey(keystoreJSON, password)
	if err != nil {
		if err == keystore.ErrDecrypt {
			return nil, ErrWrongPassword
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeystore, err)
	}

	return &KeystoreSigner{
		PrivateKeySigner: &PrivateKeySigner{
			privateKey: key.PrivateKey,
			address:    key.Address,
		},
	}, nil
}

// MockSigner is a test signer that generates fake signatures
type MockSigner struct {
	address string
}

// NewMockSigner creates a mock signer for testing
func NewMockSigner(address string) *MockSigner {
	if !strings.HasPrefix(address, "0x") {
		address = "0x" + address
	}
	return &MockSigner{address: address}
}

func (m *MockSigner) GetAddress() string {
	return m.address
}

func (m *MockSigner) SupportsNetwork(network string) bool {
	return true
}

func (m *MockSigner) SignPayment(ctx context.Context, req PaymentRequirement) (*PaymentPayload, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}

	return &PaymentPayload{
		X402Version: 1,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: PaymentPayloadData{
			Signature: "0x" + strings.Repeat("00", 65),
			Authorization: PaymentAuthorization{
				From:        m.address,
				To:          req.PayTo,
				Value:       req.MaxAmountRequired,
				ValidAfter:  "0",
				ValidBefore: strconv.FormatInt(time.Now().Add(time.Minute).Unix(), 10),
				Nonce:       nonce,
			},
		},
	}, nil
}
