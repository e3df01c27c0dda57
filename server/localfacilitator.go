package server

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/agentverse/fortune-x402"
)

// LocalFacilitator verifies payment authorizations in process: it
// reconstructs the EIP-712 TransferWithAuthorization message, recovers
// the signer, and checks the time window and value against the
// requirements. Settlement is simulated, so it is suitable only for
// development and tests; actual fund movement needs a real facilitator.
type LocalFacilitator struct{}

// NewLocalFacilitator creates an in-process facilitator
func NewLocalFacilitator() *LocalFacilitator {
	return &LocalFacilitator{}
}

func (f *LocalFacilitator) Verify(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*VerifyResponse, error) {
	auth := payment.Payload.Authorization

	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return invalid("invalid validAfter"), nil
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return invalid("invalid validBefore"), nil
	}
	if validAfter >= validBefore {
		return invalid("invalid authorization time window"), nil
	}

	now := time.Now().Unix()
	if now < validAfter {
		return invalid("authorization not yet valid"), nil
	}
	if now >= validBefore {
		return invalid("authorization expired"), nil
	}

	value := new(big.Int)
	if _, ok := value.SetString(auth.Value, 10); !ok || value.Sign() < 0 {
		return invalid("invalid authorization value"), nil
	}

	required := new(big.Int)
	if _, ok := required.SetString(requirement.MaxAmountRequired, 10); !ok {
		return nil, fmt.Errorf("invalid requirement amount: %s", requirement.MaxAmountRequired)
	}
	if value.Cmp(required) < 0 {
		return invalid("authorization value below required amount"), nil
	}

	if !common.IsHexAddress(auth.From) || !common.IsHexAddress(auth.To) {
		return invalid("invalid authorization address"), nil
	}
	if !common.IsHexAddress(requirement.PayTo) {
		return nil, fmt.Errorf("invalid payTo address: %s", requirement.PayTo)
	}
	if common.HexToAddress(auth.To) != common.HexToAddress(requirement.PayTo) {
		return invalid("authorization recipient does not match payTo"), nil
	}

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil || len(nonceBytes) != 32 {
		return invalid("invalid authorization nonce"), nil
	}

	chainID, err := x402.GetChainID(requirement.Network)
	if err != nil {
		return invalid("unsupported network"), nil
	}

	typedData := x402.TransferWithAuthorizationTypedData(
		chainID, requirement.Asset,
		requirement.Extra["name"], requirement.Extra["version"],
		apitypes.TypedDataMessage{
			"from":        common.HexToAddress(auth.From).Hex(),
			"to":          common.HexToAddress(auth.To).Hex(),
			"value":       (*math.HexOrDecimal256)(value),
			"validAfter":  (*math.HexOrDecimal256)(big.NewInt(validAfter)),
			"validBefore": (*math.HexOrDecimal256)(big.NewInt(validBefore)),
			"nonce":       auth.Nonce,
		},
	)

	sigHash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return invalid("invalid typed data"), nil
	}

	signature := common.FromHex(payment.Payload.Signature)
	if len(signature) != 65 {
		return invalid("invalid signature length"), nil
	}

	// Normalize V (27/28 -> 0/1) without mutating the caller's payload
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] == 27 || sig[64] == 28 {
		sig[64] -= 27
	}

	pubkey, err := crypto.SigToPub(sigHash, sig)
	if err != nil {
		return invalid("signature recovery failed"), nil
	}

	recovered := crypto.PubkeyToAddress(*pubkey)
	if recovered != common.HexToAddress(auth.From) {
		return invalid("signature does not match payer"), nil
	}

	return &VerifyResponse{
		IsValid: true,
		Payer:   recovered.Hex(),
	}, nil
}

func (f *LocalFacilitator) Settle(ctx context.Context, payment *x402.PaymentPayload, requirement *x402.PaymentRequirement) (*SettleResponse, error) {
	verifyResp, err := f.Verify(ctx, payment, requirement)
	if err != nil {
		return nil, err
	}
	if !verifyResp.IsValid {
		return &SettleResponse{
			Success:     false,
			ErrorReason: verifyResp.InvalidReason,
		}, nil
	}

	// Simulated settlement: the transaction id is derived from the
	// authorization so retries of the same payment report the same id.
	tx := crypto.Keccak256Hash(common.FromHex(payment.Payload.Authorization.Nonce))

	return &SettleResponse{
		Success:     true,
		Payer:       verifyResp.Payer,
		Transaction: tx.Hex(),
		Network:     payment.Network,
	}, nil
}

func (f *LocalFacilitator) GetSupported(ctx context.Context) ([]SupportedKind, error) {
	return []SupportedKind{
		{X402Version: 1, Scheme: "exact", Network: "eip155:8453"},
		{X402Version: 1, Scheme: "exact", Network: "eip155:84532"},
	}, nil
}

func invalid(reason string) *VerifyResponse {
	return &VerifyResponse{IsValid: false, InvalidReason: reason}
}
