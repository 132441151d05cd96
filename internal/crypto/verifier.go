package crypto

import (
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/engsudal909/sapience-1-sub012/internal/domain"
)

// Verifier checks bid and request signatures against the same canonical
// forms the Signer produces.
type Verifier struct {
	chainID           int64
	verifyingContract common.Address
}

// NewVerifier creates a Verifier for the given chain and settlement
// contract. Its parameters must match the signer's or every signature
// verifies invalid.
func NewVerifier(chainID int64, verifyingContract string) *Verifier {
	return &Verifier{
		chainID:           chainID,
		verifyingContract: common.HexToAddress(verifyingContract),
	}
}

// VerifyBid recomputes the canonical bid digest from the claimed payload and
// checks that the recovered signer equals the claimed maker. Any failure,
// from malformed signature bytes to a recovered-address mismatch, downgrades
// the bid to invalid; verification never raises to the caller.
func (v *Verifier) VerifyBid(p BidPayload, sigHex string) domain.ValidationStatus {
	msgHash, err := HashBid(p)
	if err != nil {
		return domain.ValidationInvalid
	}
	digest, err := bidDigest(v.chainID, v.verifyingContract, msgHash, p.Maker)
	if err != nil {
		return domain.ValidationInvalid
	}
	recovered, ok := recoverSigner(digest, sigHex)
	if !ok || recovered != p.Maker {
		return domain.ValidationInvalid
	}
	return domain.ValidationValid
}

// VerifyRequest rebuilds the request's plaintext message and checks the
// EIP-191 signature against the taker address embedded in the request.
func (v *Verifier) VerifyRequest(req AuctionRequest, sigHex string) bool {
	digest := common.BytesToHash(accounts.TextHash([]byte(req.Message())))
	recovered, ok := recoverSigner(digest, sigHex)
	return ok && recovered == common.HexToAddress(req.Taker)
}

// recoverSigner recovers the signing address from a 65-byte hex signature
// over the given digest.
func recoverSigner(digest common.Hash, sigHex string) (common.Address, bool) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != 65 {
		return common.Address{}, false
	}
	// Accept both raw {0,1} and normalized {27,28} recovery ids.
	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest.Bytes(), sigCopy)
	if err != nil {
		return common.Address{}, false
	}
	return ethcrypto.PubkeyToAddress(*pub), true
}
