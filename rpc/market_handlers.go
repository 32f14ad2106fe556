package rpc

import (
	"errors"
	"math/big"
	"net/http"

	nativecommon "kisx/native/common"
	"kisx/native/market"
	"kisx/observability/metrics"
)

// refreshPoolGauge mirrors the pooled balance into the Prometheus gauge. The
// float conversion is approximate for very large balances, which is fine for
// dashboard use.
func (s *Server) refreshPoolGauge() {
	balance, err := s.lots.PoolBalance()
	if err != nil {
		return
	}
	value, _ := new(big.Float).SetInt(balance).Float64()
	metrics.Market().SetPoolBalance(value)
}

func isValidationError(err error) bool {
	return errors.Is(err, market.ErrEmptyTitle) ||
		errors.Is(err, market.ErrEmptyDate) ||
		errors.Is(err, market.ErrEmptyDescription) ||
		errors.Is(err, market.ErrEmptyURI) ||
		errors.Is(err, market.ErrZeroPrice) ||
		errors.Is(err, market.ErrInvalidLotType) ||
		errors.Is(err, market.ErrInvalidStatus)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, market.ErrLotNotFound) || errors.Is(err, market.ErrListingNotFound)
}

func isForbiddenError(err error) bool {
	return errors.Is(err, market.ErrNotOwner) ||
		errors.Is(err, market.ErrNotAdmin) ||
		errors.Is(err, market.ErrNotApproved) ||
		errors.Is(err, nativecommon.ErrModulePaused)
}

func isConflictError(err error) bool {
	return errors.Is(err, market.ErrNotForSale) ||
		errors.Is(err, market.ErrAlreadyListed) ||
		errors.Is(err, market.ErrSelfPurchase) ||
		errors.Is(err, market.ErrNoBalance) ||
		errors.Is(err, market.ErrSettlementInProgress)
}

func isPaymentError(err error) bool {
	return errors.Is(err, market.ErrFeeMismatch) ||
		errors.Is(err, market.ErrPriceMismatch) ||
		errors.Is(err, market.ErrInsufficientFunds)
}

type lotResult struct {
	ID          uint64 `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	MetadataURI string `json:"metadataUri"`
	Price       string `json:"price"`
	Seller      string `json:"seller"`
	LotType     string `json:"lotType"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
}

func lotToResult(l *market.Lot) *lotResult {
	if l == nil {
		return nil
	}
	price := "0"
	if l.Price != nil {
		price = l.Price.String()
	}
	return &lotResult{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Date:        l.Date,
		MetadataURI: l.MetadataURI,
		Price:       price,
		Seller:      formatAddress(l.Seller),
		LotType:     l.LotType.String(),
		Status:      l.Status.String(),
		CreatedAt:   l.CreatedAt,
	}
}

type listingResult struct {
	AssetID   uint64 `json:"assetId"`
	Price     string `json:"price"`
	Seller    string `json:"seller"`
	CreatedAt int64  `json:"createdAt"`
}

func listingToResult(l *market.Listing) *listingResult {
	if l == nil {
		return nil
	}
	price := "0"
	if l.Price != nil {
		price = l.Price.String()
	}
	return &listingResult{
		AssetID:   l.AssetID,
		Price:     price,
		Seller:    formatAddress(l.Seller),
		CreatedAt: l.CreatedAt,
	}
}

func formatAddress(addr [20]byte) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 2, 42)
	buf[0], buf[1] = '0', 'x'
	for _, b := range addr {
		buf = append(buf, hexDigits[b>>4], hexDigits[b&0x0f])
	}
	return string(buf)
}

type createLotParams struct {
	Creator     string `json:"creator"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Date        string `json:"date"`
	Price       string `json:"price"`
	MetadataURI string `json:"metadataUri"`
	LotType     uint8  `json:"lotType"`
	Paid        string `json:"paid"`
}

func (s *Server) handleCreateLot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params createLotParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	creator, err := parseAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid creator", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	paid, err := parseAmount(params.Paid)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid paid amount", err.Error())
		return
	}
	lot, err := s.lots.CreateLot(creator, params.Title, params.Description, params.Date, price, params.MetadataURI, market.LotType(params.LotType), paid)
	if err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, lotToResult(lot))
}

type lotCallParams struct {
	Caller string `json:"caller"`
	LotID  uint64 `json:"lotId"`
}

func (s *Server) handleCancelLot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lotCallParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	if err := s.lots.CancelLot(caller, params.LotID); err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, map[string]bool{"cancelled": true})
}

type updateLotParams struct {
	Caller      string  `json:"caller"`
	LotID       uint64  `json:"lotId"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Date        *string `json:"date,omitempty"`
	MetadataURI *string `json:"metadataUri,omitempty"`
	Price       *string `json:"price,omitempty"`
	LotType     *uint8  `json:"lotType,omitempty"`
	Status      *uint8  `json:"status,omitempty"`
}

func (s *Server) handleUpdateLot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params updateLotParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	upd := &market.LotUpdate{
		Title:       params.Title,
		Description: params.Description,
		Date:        params.Date,
		MetadataURI: params.MetadataURI,
	}
	if params.Price != nil {
		price, err := parseAmount(*params.Price)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
			return
		}
		upd.Price = price
	}
	if params.LotType != nil {
		lotType := market.LotType(*params.LotType)
		upd.LotType = &lotType
	}
	if params.Status != nil {
		status := market.LotStatus(*params.Status)
		upd.Status = &status
	}
	lot, err := s.lots.UpdateLot(caller, params.LotID, upd)
	if err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, lotToResult(lot))
}

type buyLotParams struct {
	Buyer string `json:"buyer"`
	LotID uint64 `json:"lotId"`
	Paid  string `json:"paid"`
}

func (s *Server) handleBuyLot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params buyLotParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid buyer", err.Error())
		return
	}
	paid, err := parseAmount(params.Paid)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid paid amount", err.Error())
		return
	}
	if err := s.lots.BuyLot(buyer, params.LotID, paid); err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	s.refreshPoolGauge()
	writeResult(w, req.ID, map[string]bool{"sold": true})
}

type relistLotParams struct {
	Caller string `json:"caller"`
	LotID  uint64 `json:"lotId"`
	Price  string `json:"price"`
}

func (s *Server) handleRelistLot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params relistLotParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	lot, err := s.lots.RelistLot(caller, params.LotID, price)
	if err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, lotToResult(lot))
}

type lotQueryParams struct {
	LotID uint64 `json:"lotId"`
}

func (s *Server) handleFindLot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params lotQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	lot, err := s.lots.FindLot(params.LotID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, lotToResult(lot))
}

func (s *Server) handleFindAllPending(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	lots, err := s.lots.FindAllPending()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	results := make([]*lotResult, 0, len(lots))
	for _, lot := range lots {
		results = append(results, lotToResult(lot))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handlePendingLotCount(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	count, err := s.lots.PendingLotCount()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().SetPendingLots(count)
	writeResult(w, req.ID, map[string]int{"count": count})
}

type myLotsParams struct {
	Seller string `json:"seller"`
}

func (s *Server) handleFindMyLots(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params myLotsParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	seller, err := parseAddress(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid seller", err.Error())
		return
	}
	lots, err := s.lots.FindMyLots(seller)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	results := make([]*lotResult, 0, len(lots))
	for _, lot := range lots {
		results = append(results, lotToResult(lot))
	}
	writeResult(w, req.ID, results)
}

func (s *Server) handleMintPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	price, err := s.lots.MintPrice()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"mintPrice": price.String()})
}

type setMintPriceParams struct {
	Caller string `json:"caller"`
	Price  string `json:"price"`
}

func (s *Server) handleSetMintPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params setMintPriceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	if err := s.lots.SetMintPrice(caller, price); err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, map[string]string{"mintPrice": price.String()})
}

type withdrawParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

func (s *Server) handleWithdrawBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params withdrawParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	recipient, err := parseAddress(params.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid recipient", err.Error())
		return
	}
	amount, err := s.lots.WithdrawBalance(caller, recipient)
	if err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	s.refreshPoolGauge()
	writeResult(w, req.ID, map[string]string{"amount": amount.String()})
}

type listItemParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
	Price   string `json:"price"`
}

func (s *Server) handleListItem(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listItemParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	listing, err := s.listings.ListItem(caller, params.AssetID, price)
	if err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, listingToResult(listing))
}

type listingCallParams struct {
	Caller  string `json:"caller"`
	AssetID uint64 `json:"assetId"`
}

func (s *Server) handleCancelListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listingCallParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	if err := s.listings.CancelListing(caller, params.AssetID); err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, map[string]bool{"cancelled": true})
}

func (s *Server) handleUpdateListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listItemParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	listing, err := s.listings.UpdateListing(caller, params.AssetID, price)
	if err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, listingToResult(listing))
}

type buyItemParams struct {
	Buyer   string `json:"buyer"`
	AssetID uint64 `json:"assetId"`
	Paid    string `json:"paid"`
}

func (s *Server) handleBuyItem(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params buyItemParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid buyer", err.Error())
		return
	}
	paid, err := parseAmount(params.Paid)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid paid amount", err.Error())
		return
	}
	if err := s.listings.BuyItem(buyer, params.AssetID, paid); err != nil {
		metrics.Market().ObserveRPC(req.Method, "error")
		writeEngineError(w, req.ID, err)
		return
	}
	metrics.Market().ObserveRPC(req.Method, "ok")
	writeResult(w, req.ID, map[string]bool{"bought": true})
}

type listingQueryParams struct {
	AssetID uint64 `json:"assetId"`
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listingQueryParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	writeResult(w, req.ID, listingToResult(s.listings.GetListing(params.AssetID)))
}

type recentSalesParams struct {
	Limit int `json:"limit"`
}

func (s *Server) handleRecentSales(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.index == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "history queries disabled", nil)
		return
	}
	var params recentSalesParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	sales, err := s.index.RecentSales(params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeMarketInternal, "market error", err.Error())
		return
	}
	writeResult(w, req.ID, sales)
}
