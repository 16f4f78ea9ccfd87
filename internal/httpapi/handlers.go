package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	marketv1 "github.com/MarkoPoloResearchLab/berth/api/market/v1"
	"github.com/MarkoPoloResearchLab/berth/pkg/market"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (handler *Handler) handleListListings(ctx *gin.Context) {
	var statuses []market.ListingStatus
	for _, raw := range ctx.QueryArray("status") {
		status, err := market.ParseListingStatus(raw)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		statuses = append(statuses, status)
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	listings, err := handler.services.Catalog.ListListings(requestCtx, statuses...)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := marketv1.ListingsResponse{Listings: make([]marketv1.Listing, 0, len(listings))}
	for _, listing := range listings {
		response.Listings = append(response.Listings, marketv1.FromListing(listing))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleGetListing(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	listing, err := handler.services.Catalog.GetListing(requestCtx, listingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, marketv1.FromListing(listing))
}

func (handler *Handler) handleBidHistory(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bids, err := handler.services.Ledger.BidHistory(requestCtx, listingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := marketv1.BidHistoryResponse{Bids: make([]marketv1.Bid, 0, len(bids))}
	for _, bid := range bids {
		response.Bids = append(response.Bids, marketv1.FromBid(bid))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handlePlaceBid(ctx *gin.Context) {
	userID, ok := handler.principal(ctx)
	if !ok {
		return
	}
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	var request marketv1.BidRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidRequest, "invalid bid payload"))
		return
	}
	amount, err := market.NewAmountMinor(request.AmountMinor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.services.Ledger.PlaceBid(requestCtx, userID, listingID, amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := marketv1.BidResponse{
		Accepted:         outcome.Accepted(),
		Reason:           outcome.Evaluation.Reason.String(),
		MinBidFloorMinor: outcome.Evaluation.MinBidFloor.Int64(),
		Listing:          marketv1.FromListing(outcome.Listing),
	}
	if outcome.Accepted() {
		bid := marketv1.FromBid(outcome.Bid)
		response.Bid = &bid
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleRules(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	rules, err := handler.services.Catalog.GetAvailabilityRules(requestCtx, listingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := marketv1.RulesResponse{Rules: make([]marketv1.Rule, 0, len(rules))}
	for _, rule := range rules {
		response.Rules = append(response.Rules, marketv1.FromRule(rule))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleDates(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	month, monthErr := strconv.Atoi(ctx.Query("month"))
	year, yearErr := strconv.Atoi(ctx.Query("year"))
	if monthErr != nil || yearErr != nil || month < 1 || month > 12 {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidDate, "month and year are required"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	dates, err := handler.services.Catalog.GetAvailableDates(requestCtx, listingID, time.Month(month), year)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := marketv1.DatesResponse{Dates: make([]string, 0, len(dates))}
	for _, date := range dates {
		response.Dates = append(response.Dates, date.In(handler.cfg.Location()).Format(marketv1.DateLayout))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleCalendar(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	from := handler.nowFn().In(handler.cfg.Location())
	if raw := ctx.Query("from"); raw != "" {
		parsed, err := marketv1.ParseDate(raw, handler.cfg.Location())
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidDate, "from must be YYYY-MM-DD"))
			return
		}
		from = parsed
	}
	horizon := handler.cfg.CalendarHorizon
	if raw := ctx.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidHorizon, "days must be a number"))
			return
		}
		horizon = parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	days, err := handler.services.Availability.Calendar(requestCtx, listingID, from, horizon)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := marketv1.CalendarResponse{
		Timezone: handler.services.Availability.Location().String(),
		Days:     make([]marketv1.Day, 0, len(days)),
	}
	for _, day := range days {
		response.Days = append(response.Days, marketv1.FromDay(day))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleSlots(ctx *gin.Context) {
	listingID, ok := handler.listingParam(ctx)
	if !ok {
		return
	}
	date, err := marketv1.ParseDate(ctx.Query("date"), handler.cfg.Location())
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidDate, "date must be YYYY-MM-DD"))
		return
	}
	units := 1
	if raw := ctx.Query("units"); raw != "" {
		units, err = strconv.Atoi(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidUnits, "units must be a number"))
			return
		}
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	day, err := handler.services.Availability.DaySlots(requestCtx, listingID, date, units)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, marketv1.FromDay(day))
}

func (handler *Handler) handleReserve(ctx *gin.Context) {
	userID, ok := handler.principal(ctx)
	if !ok {
		return
	}
	var request marketv1.ReserveRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidRequest, "invalid reservation payload"))
		return
	}
	listingID, err := market.NewListingID(request.ListingID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload, err := market.NewMetadataJSON(string(request.Payload))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	reference := strings.TrimSpace(request.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}
	reserveRequest := market.ReserveRequest{
		ListingID: listingID,
		UserID:    userID,
		Units:     request.Units,
		Payload:   payload,
		Reference: reference,
	}
	if request.SlotStart != nil {
		reserveRequest.SlotStart = request.SlotStart.In(handler.cfg.Location())
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	outcome, err := handler.services.Reservations.Reserve(requestCtx, reserveRequest)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if outcome.Status == market.ReservationOrphanedCharge {
		handler.logger.Error("orphaned charge",
			zap.String("reference", outcome.Reference),
			zap.String("user_id", userID.String()),
			zap.String("listing_id", listingID.String()),
			zap.Error(outcome.Cause))
	}
	ctx.JSON(http.StatusOK, marketv1.FromOutcome(outcome))
}

func (handler *Handler) handleListClaims(ctx *gin.Context) {
	userID, ok := handler.principal(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	claims, err := handler.services.Catalog.ListClaims(requestCtx, userID, historyLimit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := marketv1.ClaimsResponse{Claims: make([]marketv1.Claim, 0, len(claims))}
	for _, claim := range claims {
		response.Claims = append(response.Claims, marketv1.FromClaim(claim))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) handleBalance(ctx *gin.Context) {
	userID, ok := handler.principal(ctx)
	if !ok {
		return
	}
	handler.respondWithBalance(ctx, userID)
}

func (handler *Handler) handleTopUp(ctx *gin.Context) {
	userID, ok := handler.principal(ctx)
	if !ok {
		return
	}
	var request marketv1.TopUpRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidRequest, "invalid top-up payload"))
		return
	}
	amount, err := market.NewAmountMinor(request.AmountMinor)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if _, err := handler.services.Wallet.TopUp(requestCtx, userID, amount, request.Reference); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.respondWithBalance(ctx, userID)
}

func (handler *Handler) respondWithBalance(ctx *gin.Context, userID market.UserID) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.services.Wallet.Balance(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	lines, err := handler.services.Wallet.Entries(requestCtx, userID, historyLimit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := marketv1.BalanceResponse{
		UserID:       userID.String(),
		BalanceMinor: balance,
		Balance:      market.AmountMinor(balance).String(),
		Entries:      make([]marketv1.BalanceEntry, 0, len(lines)),
	}
	for _, line := range lines {
		response.Entries = append(response.Entries, marketv1.BalanceEntry{
			AmountMinor: line.Amount,
			Description: line.Description,
			Reference:   line.Reference,
			CreatedAt:   line.CreatedAt.UTC(),
		})
	}
	ctx.JSON(http.StatusOK, response)
}

// principal resolves the session user; the id is passed explicitly into every
// core call.
func (handler *Handler) principal(ctx *gin.Context) (market.UserID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorUnauthorized, "missing session"))
		return market.UserID{}, false
	}
	userID, err := market.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorInvalidUserID, "session has no user"))
		return market.UserID{}, false
	}
	return userID, true
}

func (handler *Handler) listingParam(ctx *gin.Context) (market.ListingID, bool) {
	listingID, err := market.NewListingID(ctx.Param("listingID"))
	if err != nil {
		handler.respondError(ctx, err)
		return market.ListingID{}, false
	}
	return listingID, true
}

func (handler *Handler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *Handler) respondError(ctx *gin.Context, err error) {
	status, code := mapToHTTPError(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		message = messageRetry
	}
	ctx.JSON(status, errorResponse(code, message))
}
