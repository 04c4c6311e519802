package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"feeledger/internal/apperr"
	"feeledger/internal/fee"
	"feeledger/internal/ledger"
	"feeledger/internal/observability"
	"feeledger/internal/report"
	"feeledger/internal/settlement"
)

// Handler carries the dependencies of the HTTP API.
type Handler struct {
	calc    *fee.Calculator
	feeCfg  *fee.Config
	engine  *settlement.Engine
	reports *report.Generator
	store   settlement.Store
	log     zerolog.Logger
}

// NewHandler creates the API handler.
func NewHandler(calc *fee.Calculator, feeCfg *fee.Config, engine *settlement.Engine, reports *report.Generator, store settlement.Store) *Handler {
	return &Handler{
		calc:    calc,
		feeCfg:  feeCfg,
		engine:  engine,
		reports: reports,
		store:   store,
		log:     observability.NewLogger("http"),
	}
}

// RegisterRoutes mounts all endpoints under the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	fees := rg.Group("/fees")
	{
		fees.POST("/calculate", h.calculateFee)
		fees.POST("/apply-to-order", h.applyFeeToOrder)
		fees.GET("/configuration", h.getConfiguration)
		fees.PUT("/configuration", h.updateConfiguration)
		fees.GET("/balances", h.getBalances)
	}

	settlements := rg.Group("/settlements")
	{
		settlements.GET("/records", h.listSettlementRecords)
		settlements.GET("/transfers", h.listTransferRecords)
		settlements.PUT("/distribution", h.updateDistribution)
		settlements.POST("/withdraw/platform", h.withdrawPlatformFee)
		settlements.POST("/distribute/liquidity", h.distributeLiquidityFees)
		settlements.GET("/report", h.settlementReport)
		settlements.GET("/auto-transfer-settings", h.getAutoTransferSettings)
		settlements.PUT("/auto-transfer-settings", h.updateAutoTransferSettings)
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case apperr.IsInvalidArgument(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperr.IsUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type calculateFeeRequest struct {
	Symbol       string           `json:"symbol" binding:"required"`
	Amount       decimal.Decimal  `json:"amount" binding:"required"`
	Price        decimal.Decimal  `json:"price" binding:"required"`
	PlatformType string           `json:"platform_type" binding:"required"`
	Tier         string           `json:"tier" binding:"required"`
	SlippageRate *decimal.Decimal `json:"slippage_rate"`
	RoutingFee   *decimal.Decimal `json:"routing_fee"`
}

func (h *Handler) calculateFee(c *gin.Context) {
	var req calculateFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, err := h.calc.Quote(fee.QuoteRequest{
		Symbol:       req.Symbol,
		Amount:       req.Amount,
		Price:        req.Price,
		Platform:     fee.PlatformType(req.PlatformType),
		Tier:         fee.Tier(req.Tier),
		SlippageRate: req.SlippageRate,
		RoutingFee:   req.RoutingFee,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	// In auto-transfer mode the itemized breakdown is withheld.
	if h.engine.AutoTransferActive() {
		c.JSON(http.StatusOK, quote.Redacted())
		return
	}
	c.JSON(http.StatusOK, quote)
}

type applyFeeRequest struct {
	OrderID      string           `json:"order_id" binding:"required"`
	UserID       string           `json:"user_id"`
	Symbol       string           `json:"symbol" binding:"required"`
	Side         string           `json:"side" binding:"required"`
	Amount       decimal.Decimal  `json:"amount" binding:"required"`
	Price        decimal.Decimal  `json:"price" binding:"required"`
	PlatformType string           `json:"platform_type" binding:"required"`
	Tier         string           `json:"tier" binding:"required"`
	SlippageRate *decimal.Decimal `json:"slippage_rate"`
	RoutingFee   *decimal.Decimal `json:"routing_fee"`
}

func (h *Handler) applyFeeToOrder(c *gin.Context) {
	var req applyFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	quote, err := h.calc.Quote(fee.QuoteRequest{
		Symbol:       req.Symbol,
		Amount:       req.Amount,
		Price:        req.Price,
		Platform:     fee.PlatformType(req.PlatformType),
		Tier:         fee.Tier(req.Tier),
		SlippageRate: req.SlippageRate,
		RoutingFee:   req.RoutingFee,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	order, err := fee.ApplyQuote(fee.Order{
		OrderID: req.OrderID,
		UserID:  req.UserID,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Amount:  req.Amount,
		Price:   req.Price,
	}, quote)
	if err != nil {
		h.respondError(c, err)
		return
	}

	rec, err := h.engine.ProcessFee(c.Request.Context(), settlement.FeeInput{
		Amount:   quote.TotalFee,
		Currency: order.FeeCurrency,
		OrderID:  req.OrderID,
		UserID:   req.UserID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order":         order,
		"settlement_id": rec.SettlementID,
		"status":        rec.Status,
	})
}

func (h *Handler) getConfiguration(c *gin.Context) {
	view := h.feeCfg.View()
	resp := gin.H{
		"base_slippage_rate":   view.BaseSlippageRate,
		"flat_routing_fee":     view.FlatRoutingFee,
		"tier_discounts":       view.TierDiscounts,
		"platform_multipliers": view.PlatformMultipliers,
	}

	if h.engine.AutoTransferActive() {
		settings := h.engine.AutoTransferSettings()
		resp["auto_transfer_enabled"] = true
		resp["receiver_address"] = fee.MaskAddress(settings.ReceiverAddress)
		resp["transfer_threshold"] = settings.Threshold
	} else {
		resp["auto_transfer_enabled"] = false
		resp["fee_distribution"] = h.engine.DistributionRatios()
	}
	c.JSON(http.StatusOK, resp)
}

type updateConfigurationRequest struct {
	BaseSlippageRate *decimal.Decimal `json:"base_slippage_rate"`
	FlatRoutingFee   *decimal.Decimal `json:"flat_routing_fee"`
}

func (h *Handler) updateConfiguration(c *gin.Context) {
	var req updateConfigurationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.feeCfg.Update(req.BaseSlippageRate, req.FlatRoutingFee); err != nil {
		h.respondError(c, err)
		return
	}
	h.getConfiguration(c)
}

func (h *Handler) getBalances(c *gin.Context) {
	snap := h.engine.SnapshotView()
	if h.engine.AutoTransferActive() {
		settings := h.engine.AutoTransferSettings()
		c.JSON(http.StatusOK, gin.H{
			"mode":               ledger.ModeAutoTransfer,
			"pending_transfers":  snap.Pending,
			"receiver_address":   fee.MaskAddress(settings.ReceiverAddress),
			"transfer_threshold": settings.Threshold,
			"updated_at":         snap.UpdatedAt,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":       ledger.ModeDistribution,
		"balances":   snap.Balances,
		"updated_at": snap.UpdatedAt,
	})
}

func (h *Handler) listSettlementRecords(c *gin.Context) {
	start, end, limit, err := listParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := h.store.ListSettlementRecords(c.Request.Context(), start, end, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

func (h *Handler) listTransferRecords(c *gin.Context) {
	start, end, limit, err := listParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	records, err := h.store.ListTransferRecords(c.Request.Context(), start, end, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": records, "count": len(records)})
}

func (h *Handler) updateDistribution(c *gin.Context) {
	var ratios map[string]decimal.Decimal
	if err := c.ShouldBindJSON(&ratios); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.engine.UpdateFeeDistribution(ledger.DistributionConfig(ratios))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type withdrawRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	Currency    string          `json:"currency" binding:"required"`
	Destination string          `json:"destination" binding:"required"`
}

func (h *Handler) withdrawPlatformFee(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.engine.WithdrawPlatformFee(c.Request.Context(), req.Amount, req.Currency, req.Destination)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type distributeLiquidityRequest struct {
	Plan []settlement.ProviderShare `json:"plan" binding:"required"`
}

func (h *Handler) distributeLiquidityFees(c *gin.Context) {
	var req distributeLiquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.engine.DistributeLiquidityProviderFees(c.Request.Context(), req.Plan)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) settlementReport(c *gin.Context) {
	period := c.DefaultQuery("period", "daily")
	start, end, err := parseTimeBounds(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from, to, err := report.ResolveRange(period, start, end)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rep, err := h.reports.Generate(c.Request.Context(), period, from, to)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) getAutoTransferSettings(c *gin.Context) {
	settings := h.engine.AutoTransferSettings()
	c.JSON(http.StatusOK, gin.H{
		"enabled":          settings.Enabled,
		"receiver_address": fee.MaskAddress(settings.ReceiverAddress),
		"threshold":        settings.Threshold,
	})
}

type autoTransferSettingsRequest struct {
	Enabled         bool            `json:"enabled"`
	ReceiverAddress string          `json:"receiver_address"`
	Threshold       decimal.Decimal `json:"threshold"`
}

func (h *Handler) updateAutoTransferSettings(c *gin.Context) {
	var req autoTransferSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.engine.UpdateAutoTransferSettings(c.Request.Context(), settlement.AutoTransferConfig{
		Enabled:         req.Enabled,
		ReceiverAddress: req.ReceiverAddress,
		Threshold:       req.Threshold,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.getAutoTransferSettings(c)
}

// listParams parses start/end/limit query parameters shared by the record
// listing endpoints.
func listParams(c *gin.Context) (*time.Time, *time.Time, int, error) {
	start, end, err := parseTimeBounds(c)
	if err != nil {
		return nil, nil, 0, err
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return nil, nil, 0, err
		}
	}
	return start, end, limit, nil
}

func parseTimeBounds(c *gin.Context) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, err
		}
		start = &t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, err
		}
		end = &t
	}
	return start, end, nil
}
