package server

import (
	"errors"
	"fmt"
	"strings"

	x402 "github.com/agentverse/fortune-x402"
)

// ErrNotConfigured means the payment gate is missing its payee or
// network configuration. Protected routes fail closed on it: a config
// gap must never silently turn a paid route into a free one.
var ErrNotConfigured = errors.New("payment gate not configured")

const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdcDecimals is the number of decimals of every USDC deployment we target.
const usdcDecimals = 6

// challengeTimeoutSeconds bounds the client's authorization validity window.
const challengeTimeoutSeconds = 3600

// PriceToAtomicUSDC converts a fixed-point USD price string such as
// "0.01" or "$0.10" into USDC atomic units ("10000", "100000").
func PriceToAtomicUSDC(price string) (string, error) {
	price = strings.TrimSpace(strings.TrimPrefix(price, "$"))
	if price == "" {
		return "", fmt.Errorf("empty price")
	}

	intPart := price
	fracPart := ""
	if dot := strings.IndexByte(price, '.'); dot >= 0 {
		intPart, fracPart = price[:dot], price[dot+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > usdcDecimals {
		return "", fmt.Errorf("price %q has more than %d decimal places", price, usdcDecimals)
	}
	fracPart += strings.Repeat("0", usdcDecimals-len(fracPart))

	for _, r := range intPart + fracPart {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("invalid price %q", price)
		}
	}

	atomic := strings.TrimLeft(intPart+fracPart, "0")
	if atomic == "" {
		atomic = "0"
	}
	return atomic, nil
}

// usdcForNetwork returns the canonical USDC deployment and its EIP-712
// domain parameters for a network
func usdcForNetwork(network string) (asset, name, version string, ok bool) {
	switch network {
	case "eip155:8453", "base":
		return x402.USDCAddressBase, "USD Coin", "2", true
	case "eip155:84532", "base-sepolia":
		return x402.USDCAddressBaseSepolia, "USDC", "2", true
	}
	return "", "", "", false
}

// Issuer produces the 402 challenge for a protected route. It is
// stateless; requirements are rebuilt for every challenge.
type Issuer struct {
	Network     string
	PayTo       string
	Asset       string // optional, defaults to the network's USDC deployment
	PriceUSD    string
	Description string
}

// Requirements builds the payment requirement for a resource.
// Returns ErrNotConfigured when the route cannot be protected.
func (i *Issuer) Requirements(resource string) (*x402.PaymentRequirement, error) {
	if i.PayTo == "" || strings.EqualFold(i.PayTo, zeroAddress) {
		return nil, fmt.Errorf("%w: payee address missing", ErrNotConfigured)
	}
	if i.Network == "" {
		return nil, fmt.Errorf("%w: network missing", ErrNotConfigured)
	}

	amount, err := PriceToAtomicUSDC(i.PriceUSD)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConfigured, err)
	}

	asset, tokenName, tokenVersion, ok := usdcForNetwork(i.Network)
	if !ok {
		return nil, fmt.Errorf("%w: no known USDC deployment on %s", ErrNotConfigured, i.Network)
	}
	if i.Asset != "" {
		asset = i.Asset
	}

	return &x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           i.Network,
		MaxAmountRequired: amount,
		Asset:             asset,
		PayTo:             i.PayTo,
		Resource:          resource,
		Description:       i.Description,
		MimeType:          "application/json",
		MaxTimeoutSeconds: challengeTimeoutSeconds,
		Extra: map[string]string{
			"name":    tokenName,
			"version": tokenVersion,
		},
	}, nil
}

// Challenge builds the full 402 response body for a resource
func (i *Issuer) Challenge(resource, message string) (*x402.PaymentRequirementsResponse, error) {
	requirement, err := i.Requirements(resource)
	if err != nil {
		return nil, err
	}

	return &x402.PaymentRequirementsResponse{
		X402Version: 1,
		Error:       message,
		Accepts:     []x402.PaymentRequirement{*requirement},
	}, nil
}
