// Package server exposes the margin account API over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Kwenta/smart-margin-sub002/internal/account"
	"github.com/Kwenta/smart-margin-sub002/internal/auth"
	"github.com/Kwenta/smart-margin-sub002/internal/margin"
	"github.com/Kwenta/smart-margin-sub002/internal/market"
	"github.com/Kwenta/smart-margin-sub002/internal/observability"
	"github.com/Kwenta/smart-margin-sub002/internal/registry"
	"github.com/Kwenta/smart-margin-sub002/internal/settings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server is the HTTP front for the account registry: account lifecycle,
// command batches, conditional orders, and access control.
type Server struct {
	addr   string
	router *gin.Engine
}

// Deps carries everything the handlers touch.
type Deps struct {
	Registry *registry.Registry
	Settings *settings.Store
	Health   *observability.HealthChecker
	Metrics  *observability.Metrics
	Log      zerolog.Logger
}

// NewServer builds the HTTP API. Pass an empty addr for the default :8080.
func NewServer(addr string, deps *Deps) *Server {
	if addr == "" {
		addr = ":8080"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestMetrics(deps.Metrics))

	h := &handlers{deps: deps}

	router.GET("/healthz", gin.WrapF(deps.Health.LivenessHandler))
	router.GET("/readyz", gin.WrapF(deps.Health.ReadinessHandler))

	v1 := router.Group("/v1")
	{
		v1.POST("/accounts", h.createAccount)
		v1.GET("/accounts", h.listAccounts)
		v1.GET("/accounts/:id", h.getAccount)
		v1.POST("/accounts/:id/execute", h.execute)
		v1.POST("/accounts/:id/native-deposit", h.nativeDeposit)

		v1.POST("/accounts/:id/orders", h.placeOrder)
		v1.GET("/accounts/:id/orders", h.listOrders)
		v1.GET("/accounts/:id/orders/:orderID", h.getOrder)
		v1.DELETE("/accounts/:id/orders/:orderID", h.cancelOrder)
		v1.GET("/accounts/:id/orders/:orderID/executable", h.orderExecutable)

		v1.POST("/accounts/:id/owner", h.transferOwnership)
		v1.POST("/accounts/:id/delegates", h.addDelegate)
		v1.DELETE("/accounts/:id/delegates/:principal", h.removeDelegate)

		v1.GET("/settings", h.getSettings)
	}

	return &Server{addr: addr, router: router}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}

func requestMetrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if m != nil {
			m.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
			m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	}
}

type handlers struct {
	deps *Deps
}

type errorBody struct {
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), errorBody{Error: err.Error()})
}

// statusFor maps domain sentinels onto HTTP statuses. Anything unmapped is a
// 422: the batch was well formed but the account state rejected it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrAccountNotFound),
		errors.Is(err, account.ErrOrderNotFound),
		errors.Is(err, market.ErrUnknownMarket):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrOnlyOwner),
		errors.Is(err, account.ErrOnlyAutomation):
		return http.StatusForbidden
	case errors.Is(err, account.ErrUnknownCommand),
		errors.Is(err, account.ErrBadPayload),
		errors.Is(err, account.ErrLengthMismatch),
		errors.Is(err, account.ErrEmptyBatch),
		errors.Is(err, account.ErrZeroSizeDelta),
		errors.Is(err, auth.ErrZeroPrincipal),
		errors.Is(err, margin.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrExecutionDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, account.ErrOrderNotPending),
		errors.Is(err, auth.ErrDelegateExists):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *handlers) account(c *gin.Context) (*account.Account, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid account id"})
		return nil, false
	}
	acct, ok := h.deps.Registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody{Error: registry.ErrAccountNotFound.Error()})
		return nil, false
	}
	return acct, true
}

// --- Account lifecycle ---

type createAccountRequest struct {
	Owner     string `json:"owner" binding:"required"`
	RequestID string `json:"request_id"`
}

type accountSummary struct {
	AccountID       uuid.UUID `json:"account_id"`
	Owner           string    `json:"owner"`
	Delegates       []string  `json:"delegates"`
	Balance         int64     `json:"balance"`
	CommittedMargin int64     `json:"committed_margin"`
	FreeMargin      int64     `json:"free_margin"`
	NativeBalance   int64     `json:"native_balance"`
}

func summarize(acct *account.Account) accountSummary {
	delegates := acct.Delegates()
	out := make([]string, len(delegates))
	for i, d := range delegates {
		out[i] = string(d)
	}
	return accountSummary{
		AccountID:       acct.ID(),
		Owner:           string(acct.Owner()),
		Delegates:       out,
		Balance:         acct.Balance(),
		CommittedMargin: acct.CommittedMargin(),
		FreeMargin:      acct.FreeMargin(),
		NativeBalance:   acct.NativeBalance(),
	}
}

func (h *handlers) createAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	acct, err := h.deps.Registry.NewAccount(auth.Principal(req.Owner), req.RequestID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.deps.Log.Info().Str("account_id", acct.ID().String()).Str("owner", req.Owner).Msg("account created")
	c.JSON(http.StatusCreated, summarize(acct))
}

func (h *handlers) listAccounts(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "owner query parameter required"})
		return
	}
	accounts := h.deps.Registry.AccountsOf(auth.Principal(owner))
	out := make([]accountSummary, len(accounts))
	for i, acct := range accounts {
		out[i] = summarize(acct)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (h *handlers) getAccount(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, summarize(acct))
}

// --- Command dispatch ---

type executeRequest struct {
	Caller   string        `json:"caller" binding:"required"`
	Commands []wireCommand `json:"commands" binding:"required"`
}

type wireCommand struct {
	Tag     string          `json:"tag"`
	Payload json.RawMessage `json:"payload"`
}

func (h *handlers) execute(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	tags := make([]account.CommandTag, len(req.Commands))
	payloads := make([]json.RawMessage, len(req.Commands))
	for i, cmd := range req.Commands {
		tag, err := account.ParseCommandTag(cmd.Tag)
		if err != nil {
			abortWithError(c, err)
			return
		}
		tags[i] = tag
		payloads[i] = cmd.Payload
	}

	if err := acct.Execute(auth.Principal(req.Caller), tags, payloads); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(acct))
}

type nativeDepositRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

func (h *handlers) nativeDeposit(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	var req nativeDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := acct.DepositNative(req.Amount); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(acct))
}

// --- Conditional orders ---

type placeOrderRequest struct {
	Caller           string `json:"caller" binding:"required"`
	MarketKey        string `json:"market_key" binding:"required"`
	MarginDelta      int64  `json:"margin_delta"`
	SizeDelta        int64  `json:"size_delta"`
	TargetPrice      int64  `json:"target_price"`
	OrderType        string `json:"order_type" binding:"required"`
	DesiredFillPrice int64  `json:"desired_fill_price"`
	ReduceOnly       bool   `json:"reduce_only"`
}

type orderView struct {
	OrderID          uint64 `json:"order_id"`
	MarketKey        string `json:"market_key"`
	MarginDelta      int64  `json:"margin_delta"`
	SizeDelta        int64  `json:"size_delta"`
	TargetPrice      int64  `json:"target_price"`
	OrderType        string `json:"order_type"`
	DesiredFillPrice int64  `json:"desired_fill_price"`
	ReduceOnly       bool   `json:"reduce_only"`
	Status           string `json:"status"`
	PlacedAt         string `json:"placed_at"`
}

func viewOrder(o account.ConditionalOrder) orderView {
	return orderView{
		OrderID:          o.ID,
		MarketKey:        string(o.MarketKey),
		MarginDelta:      o.MarginDelta,
		SizeDelta:        o.SizeDelta,
		TargetPrice:      o.TargetPrice,
		OrderType:        o.OrderType.String(),
		DesiredFillPrice: o.DesiredFillPrice,
		ReduceOnly:       o.ReduceOnly,
		Status:           o.Status.String(),
		PlacedAt:         o.PlacedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (h *handlers) placeOrder(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	orderID, err := acct.PlaceConditionalOrder(auth.Principal(req.Caller), account.PlaceConditionalOrder{
		Market:           market.Key(req.MarketKey),
		MarginDelta:      req.MarginDelta,
		SizeDelta:        req.SizeDelta,
		TargetPrice:      req.TargetPrice,
		OrderType:        req.OrderType,
		DesiredFillPrice: req.DesiredFillPrice,
		ReduceOnly:       req.ReduceOnly,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	order, _ := acct.Order(orderID)
	c.JSON(http.StatusCreated, viewOrder(order))
}

func (h *handlers) listOrders(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	orders := acct.Orders()
	out := make([]orderView, len(orders))
	for i, o := range orders {
		out[i] = viewOrder(o)
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *handlers) orderID(c *gin.Context) (uint64, bool) {
	orderID, err := strconv.ParseUint(c.Param("orderID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid order id"})
		return 0, false
	}
	return orderID, true
}

func (h *handlers) getOrder(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}
	order, found := acct.Order(orderID)
	if !found {
		c.JSON(http.StatusNotFound, errorBody{Error: account.ErrOrderNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOrder(order))
}

func (h *handlers) cancelOrder(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}
	caller := c.Query("caller")
	if caller == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "caller query parameter required"})
		return
	}
	if err := acct.CancelConditionalOrder(auth.Principal(caller), orderID); err != nil {
		abortWithError(c, err)
		return
	}
	order, _ := acct.Order(orderID)
	c.JSON(http.StatusOK, viewOrder(order))
}

func (h *handlers) orderExecutable(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	orderID, ok := h.orderID(c)
	if !ok {
		return
	}
	executable, err := acct.Checker(orderID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "executable": executable})
}

// --- Access control ---

type principalRequest struct {
	Caller    string `json:"caller" binding:"required"`
	Principal string `json:"principal" binding:"required"`
}

func (h *handlers) transferOwnership(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	var req principalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := acct.TransferOwnership(auth.Principal(req.Caller), auth.Principal(req.Principal)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(acct))
}

func (h *handlers) addDelegate(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	var req principalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := acct.AddDelegate(auth.Principal(req.Caller), auth.Principal(req.Principal)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(acct))
}

func (h *handlers) removeDelegate(c *gin.Context) {
	acct, ok := h.account(c)
	if !ok {
		return
	}
	caller := c.Query("caller")
	if caller == "" {
		c.JSON(http.StatusBadRequest, errorBody{Error: "caller query parameter required"})
		return
	}
	if err := acct.RemoveDelegate(auth.Principal(caller), auth.Principal(c.Param("principal"))); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summarize(acct))
}

// --- Settings ---

func (h *handlers) getSettings(c *gin.Context) {
	vals := h.deps.Settings.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"trade_fee_bps":       vals.TradeFeeBps,
		"limit_order_fee_bps": vals.LimitOrderFeeBps,
		"stop_order_fee_bps":  vals.StopOrderFeeBps,
		"execution_enabled":   vals.ExecutionEnabled,
	})
}
