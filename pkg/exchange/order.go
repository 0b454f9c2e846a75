package exchange

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrAmountTooWide is returned when an order field does not fit the 32-byte
// big-endian encoding the order hash is defined over.
var ErrAmountTooWide = errors.New("order field exceeds 32-byte width")

// Order is an immutable, off-chain-constructed trade intent. Amounts,
// timestamps and the salt are uint256 values encoded 32-byte big-endian when
// hashed; addresses encode to their natural 20 bytes.
//
// SenderAddress restricts which relayer may submit fills (zero = anyone).
// TakerAddress restricts who may take the order (zero = anyone).
// Salt is a uniqueness nonce and doubles as the bulk-cancellation comparator:
// an order is dead once Salt < the maker's cancellation epoch.
type Order struct {
	SenderAddress       common.Address
	MakerAddress        common.Address
	TakerAddress        common.Address
	MakerAssetAddress   common.Address
	TakerAssetAddress   common.Address
	FeeRecipientAddress common.Address

	MakerAssetAmount      *big.Int
	TakerAssetAmount      *big.Int
	MakerFeeAmount        *big.Int
	TakerFeeAmount        *big.Int
	ExpirationTimeSeconds *big.Int
	Salt                  *big.Int
}

// Hash returns the order's identity: keccak256 over the venue address followed
// by every order field in declared order. Binding the venue address in first
// prevents replaying the same signed order across deployments.
func (o *Order) Hash(venue common.Address) (common.Hash, error) {
	// venue(20) + 6 addresses(20) + 6 uint256(32)
	buf := make([]byte, 0, 7*common.AddressLength+6*common.HashLength)
	buf = append(buf, venue.Bytes()...)
	buf = append(buf, o.SenderAddress.Bytes()...)
	buf = append(buf, o.MakerAddress.Bytes()...)
	buf = append(buf, o.TakerAddress.Bytes()...)
	buf = append(buf, o.MakerAssetAddress.Bytes()...)
	buf = append(buf, o.TakerAssetAddress.Bytes()...)
	buf = append(buf, o.FeeRecipientAddress.Bytes()...)

	for _, v := range []*big.Int{
		o.MakerAssetAmount,
		o.TakerAssetAmount,
		o.MakerFeeAmount,
		o.TakerFeeAmount,
		o.ExpirationTimeSeconds,
		o.Salt,
	} {
		word, err := uint256Word(v)
		if err != nil {
			return common.Hash{}, err
		}
		buf = append(buf, word[:]...)
	}

	return ethcrypto.Keccak256Hash(buf), nil
}

// uint256Word encodes v as a 32-byte big-endian word.
func uint256Word(v *big.Int) ([32]byte, error) {
	var word [32]byte
	if v == nil {
		return word, ErrAmountTooWide
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		return word, ErrAmountTooWide
	}
	v.FillBytes(word[:])
	return word, nil
}
