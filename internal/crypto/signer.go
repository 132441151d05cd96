// Package crypto implements the signature schemes of the auction protocol:
// EIP-712 typed-data signing for maker bids, EIP-191 personal-message
// signing for taker auction requests, and encrypted private-key storage.
package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain constants. The on-chain verifier reconstructs the same
// domain, so these are wire-format constants, not labels: renaming the
// struct type or domain name invalidates every previously issued signature.
const (
	DomainName    = "SapienceAuction"
	DomainVersion = "1"

	bidPrimaryType = "BidCommitment"
)

var bidTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	bidPrimaryType: {
		{Name: "messageHash", Type: "bytes32"},
		{Name: "signer", Type: "address"},
	},
}

// bidHashArgs is the ABI layout of the canonical pre-hash tuple. Order is
// fixed: predicted outcomes, taker wager, auction wager, resolver, maker,
// deadline.
var bidHashArgs = abi.Arguments{
	{Type: mustType("bytes")},
	{Type: mustType("uint256")},
	{Type: mustType("uint256")},
	{Type: mustType("address")},
	{Type: mustType("address")},
	{Type: mustType("uint256")},
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// BidPayload carries the fields covered by a bid signature.
type BidPayload struct {
	PredictedOutcomes []byte // decoded outcome blob, not its hex form
	TakerWager        *big.Int
	AuctionWager      *big.Int
	Resolver          common.Address
	Maker             common.Address
	Deadline          *big.Int // unix seconds
}

// HashBid computes the canonical 32-byte digest of a bid: the ABI encoding
// of the payload tuple, hashed with keccak256. Both the off-chain signer and
// the on-chain verifier must reproduce this byte-for-byte.
func HashBid(p BidPayload) (common.Hash, error) {
	packed, err := bidHashArgs.Pack(
		p.PredictedOutcomes,
		p.TakerWager,
		p.AuctionWager,
		p.Resolver,
		p.Maker,
		p.Deadline,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: pack bid payload: %w", err)
	}
	return ethcrypto.Keccak256Hash(packed), nil
}

// bidDigest assembles the final EIP-712 digest for a bid commitment:
// keccak256("\x19\x01" || domainSeparator || structHash).
func bidDigest(chainID int64, verifyingContract common.Address, msgHash common.Hash, signer common.Address) (common.Hash, error) {
	td := apitypes.TypedData{
		Types:       bidTypes,
		PrimaryType: bidPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"messageHash": msgHash.Hex(),
			"signer":      signer.Hex(),
		},
	}

	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: domain hash: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: struct hash: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSep)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSep...)
	raw = append(raw, structHash...)
	return ethcrypto.Keccak256Hash(raw), nil
}

// Signer signs bids and auction requests with one secp256k1 key.
type Signer struct {
	key               *ecdsa.PrivateKey
	address           common.Address
	chainID           int64
	verifyingContract common.Address
}

// NewSigner creates a Signer from a hex-encoded private key, the active
// chain id, and the settlement contract whose address separates the
// signature domain.
func NewSigner(privateKeyHex string, chainID int64, verifyingContract string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{
		key:               key,
		address:           ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:           chainID,
		verifyingContract: common.HexToAddress(verifyingContract),
	}, nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignBid produces the maker's hex-encoded 65-byte bid signature. The signed
// struct binds the canonical bid hash to the signer's own address.
func (s *Signer) SignBid(p BidPayload) (string, error) {
	msgHash, err := HashBid(p)
	if err != nil {
		return "", err
	}
	digest, err := bidDigest(s.chainID, s.verifyingContract, msgHash, s.address)
	if err != nil {
		return "", err
	}
	return s.signDigest(digest)
}

// SignRequest signs an auction-start request message via EIP-191 personal
// signing. The relay rebuilds the identical plaintext to verify.
func (s *Signer) SignRequest(req AuctionRequest) (string, error) {
	digest := accounts.TextHash([]byte(req.Message()))
	return s.signDigest(common.BytesToHash(digest))
}

// signDigest signs a 32-byte digest and normalizes v to {27, 28}.
func (s *Signer) signDigest(digest common.Hash) (string, error) {
	sig, err := ethcrypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return hexutil.Encode(sig), nil
}
