package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/halcyondex/halcyon/pkg/exchange"
)

// Server exposes the settlement core over REST and streams emitted records
// over WebSocket. Its Hub implements exchange.EventSink, so wiring the hub
// into the core's sink is all it takes to stream every record.
type Server struct {
	core   *exchange.Core
	gate   *exchange.MetaTransactionGate
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer creates an API server around core and gate.
func NewServer(core *exchange.Core, gate *exchange.MetaTransactionGate, log *zap.SugaredLogger) *Server {
	s := &Server{
		core:   core,
		gate:   gate,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub for use as an event sink.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Settlement operations
	api.HandleFunc("/fills", s.handleFill).Methods("POST")
	api.HandleFunc("/cancels", s.handleCancel).Methods("POST")
	api.HandleFunc("/cancel-up-to", s.handleCancelUpTo).Methods("POST")
	api.HandleFunc("/transactions", s.handleExecute).Methods("POST")

	// Ledger queries
	api.HandleFunc("/orders/{hash}", s.handleGetOrderState).Methods("GET")

	// WebSocket event stream
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	s.log.Infow("api_server_listening", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req FillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	order, err := req.Order.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	fillAmount, err := parseAmount("takerAssetFillAmount", req.TakerAssetFillAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid fill amount", err.Error())
		return
	}
	taker, err := parseAddress("takerAddress", req.TakerAddress)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid taker", err.Error())
		return
	}
	sender, err := parseAddress("senderAddress", req.SenderAddress)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sender", err.Error())
		return
	}
	sig, err := req.Signature.toSignature()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	filled, err := s.core.FillOrder(order, fillAmount, sig, taker, sender)
	if err != nil {
		respondError(w, settlementStatus(err), "fill rejected", err.Error())
		return
	}
	orderHash, _ := s.core.OrderHash(order)
	respondJSON(w, FillResponse{OrderHash: orderHash.Hex(), FilledAmount: filled.String()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	order, err := req.Order.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	cancelAmount, err := parseAmount("takerAssetCancelAmount", req.TakerAssetCancelAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cancel amount", err.Error())
		return
	}
	maker, err := parseAddress("makerAddress", req.MakerAddress)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid maker", err.Error())
		return
	}
	sender, err := parseAddress("senderAddress", req.SenderAddress)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid sender", err.Error())
		return
	}

	cancelled, err := s.core.CancelOrder(order, cancelAmount, maker, sender)
	if err != nil {
		respondError(w, settlementStatus(err), "cancel rejected", err.Error())
		return
	}
	orderHash, _ := s.core.OrderHash(order)
	respondJSON(w, CancelResponse{OrderHash: orderHash.Hex(), CancelledAmount: cancelled.String()})
}

func (s *Server) handleCancelUpTo(w http.ResponseWriter, r *http.Request) {
	var req CancelUpToRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	maker, err := parseAddress("makerAddress", req.MakerAddress)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid maker", err.Error())
		return
	}
	salt, err := parseAmount("salt", req.Salt)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid salt", err.Error())
		return
	}

	if err := s.core.CancelOrdersUpTo(maker, salt); err != nil {
		respondError(w, settlementStatus(err), "cancel-up-to rejected", err.Error())
		return
	}
	respondJSON(w, CancelUpToResponse{
		MakerAddress: maker.Hex(),
		Epoch:        s.core.Ledger().MakerEpoch(maker).String(),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	nonce, err := parseAmount("nonce", req.Nonce)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid nonce", err.Error())
		return
	}
	signer, err := parseAddress("signerAddress", req.SignerAddress)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signer", err.Error())
		return
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(req.Payload, "0x"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload hex", err.Error())
		return
	}
	sig, err := req.Signature.toSignature()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	txHash, filled, err := s.gate.Execute(nonce, signer, payload, sig)
	if err != nil {
		respondError(w, settlementStatus(err), "execution rejected", err.Error())
		return
	}
	resp := FillResponse{TxHash: txHash.Hex(), FilledAmount: "0"}
	if filled != nil {
		resp.FilledAmount = filled.String()
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetOrderState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	hashStr := strings.TrimPrefix(vars["hash"], "0x")
	raw, err := hex.DecodeString(hashStr)
	if err != nil || len(raw) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid order hash", "")
		return
	}
	orderHash := common.BytesToHash(raw)

	ledger := s.core.Ledger()
	unavailable, err := ledger.UnavailableAmount(orderHash)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ledger error", err.Error())
		return
	}
	respondJSON(w, OrderStateResponse{
		OrderHash:         orderHash.Hex(),
		FilledAmount:      ledger.Filled(orderHash).String(),
		CancelledAmount:   ledger.Cancelled(orderHash).String(),
		UnavailableAmount: unavailable.String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// settlementStatus maps hard failures to HTTP statuses: replays conflict,
// everything else is a bad request. Soft outcomes never reach here — they
// return 200 with a zero amount.
func settlementStatus(err error) int {
	if errors.Is(err, exchange.ErrTransactionReplayed) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
