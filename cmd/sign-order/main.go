// sign-order is a developer utility: it generates (or loads) a secp256k1 key,
// builds a sample order, signs its hash, and prints ready-to-submit JSON for
// both the direct fill endpoint and the relayed meta-transaction path.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/halcyondex/halcyon/params"
	"github.com/halcyondex/halcyon/pkg/api"
	"github.com/halcyondex/halcyon/pkg/crypto"
	"github.com/halcyondex/halcyon/pkg/exchange"
)

func main() {
	cfg := params.LoadFromEnv("")

	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if pk := os.Getenv("PRIVATE_KEY"); pk != "" {
		signer, err = crypto.FromPrivateKeyHex(pk)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", crypto.EIP55(signer.Address().Bytes()))
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	// Step 2: Create order (maker = signer, open taker and sender)
	order := &exchange.Order{
		MakerAddress:          signer.Address(),
		MakerAssetAddress:     common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		TakerAssetAddress:     common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		FeeRecipientAddress:   common.HexToAddress("0xA258b39954ceF5cB142fd567A46cDdB31a670124"),
		MakerAssetAmount:      big.NewInt(200),
		TakerAssetAmount:      big.NewInt(100),
		MakerFeeAmount:        big.NewInt(1),
		TakerFeeAmount:        big.NewInt(1),
		ExpirationTimeSeconds: big.NewInt(time.Now().Add(24 * time.Hour).Unix()),
		Salt:                  big.NewInt(time.Now().UnixNano()),
	}

	// Step 3: Hash against the venue and sign
	orderHash, err := order.Hash(cfg.Venue)
	if err != nil {
		fmt.Printf("Error hashing: %v\n", err)
		os.Exit(1)
	}
	rsv, err := signer.SignHash(orderHash[:])
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	sig, err := exchange.SignatureFromRSV(rsv)
	if err != nil {
		fmt.Printf("Error decoding signature: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Venue: %s\n", cfg.Venue.Hex())
	fmt.Printf("Order Hash: %s\n", orderHash.Hex())
	fmt.Printf("Signature: v=%d r=0x%x s=0x%x\n\n", sig.V, sig.R, sig.S)

	// Step 4: Direct fill request (taker fills half)
	fillReq := api.FillRequest{
		Order: api.OrderPayload{
			SenderAddress:         order.SenderAddress.Hex(),
			MakerAddress:          order.MakerAddress.Hex(),
			TakerAddress:          order.TakerAddress.Hex(),
			MakerAssetAddress:     order.MakerAssetAddress.Hex(),
			TakerAssetAddress:     order.TakerAssetAddress.Hex(),
			FeeRecipientAddress:   order.FeeRecipientAddress.Hex(),
			MakerAssetAmount:      order.MakerAssetAmount.String(),
			TakerAssetAmount:      order.TakerAssetAmount.String(),
			MakerFeeAmount:        order.MakerFeeAmount.String(),
			TakerFeeAmount:        order.TakerFeeAmount.String(),
			ExpirationTimeSeconds: order.ExpirationTimeSeconds.String(),
			Salt:                  order.Salt.String(),
		},
		TakerAssetFillAmount: "50",
		Signature: api.SignaturePayload{
			V: sig.V,
			R: fmt.Sprintf("0x%x", sig.R),
			S: fmt.Sprintf("0x%x", sig.S),
		},
	}
	reqJSON, err := json.MarshalIndent(fillReq, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Fill request (POST /api/v1/fills, set takerAddress/senderAddress):")
	fmt.Println(string(reqJSON))
	fmt.Println()

	// Step 5: Meta-transaction envelope for the relayed path. The taker signs
	// the whole instruction; here the maker's key doubles as the taker's for
	// demonstration.
	payload, err := exchange.EncodeFillOrderArgs(order, big.NewInt(50), sig)
	if err != nil {
		fmt.Printf("Error encoding payload: %v\n", err)
		os.Exit(1)
	}
	nonce := big.NewInt(1)
	txHash, err := exchange.TransactionHash(cfg.Venue, nonce, payload)
	if err != nil {
		fmt.Printf("Error hashing transaction: %v\n", err)
		os.Exit(1)
	}
	txRSV, err := signer.SignHash(txHash[:])
	if err != nil {
		fmt.Printf("Error signing transaction: %v\n", err)
		os.Exit(1)
	}
	txSig, err := exchange.SignatureFromRSV(txRSV)
	if err != nil {
		fmt.Printf("Error decoding signature: %v\n", err)
		os.Exit(1)
	}

	execReq := api.ExecuteRequest{
		Nonce:         nonce.String(),
		SignerAddress: signer.Address().Hex(),
		Payload:       "0x" + hex.EncodeToString(payload),
		Signature: api.SignaturePayload{
			V: txSig.V,
			R: fmt.Sprintf("0x%x", txSig.R),
			S: fmt.Sprintf("0x%x", txSig.S),
		},
	}
	execJSON, err := json.MarshalIndent(execReq, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Meta-transaction (POST /api/v1/transactions or relay topic):")
	fmt.Println(string(execJSON))
}
