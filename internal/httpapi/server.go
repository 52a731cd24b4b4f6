// Package httpapi is the HTTP request boundary of the reservation engine.
// Authentication lives in front of this service; the caller identity arrives
// in the X-User-ID header.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/campuskitchen/dinehall/internal/metrics"
	"github.com/campuskitchen/dinehall/pkg/reserve"
)

const (
	headerUserID = "X-User-ID"
	dateLayout   = "2006-01-02"
)

// MenuLister serves the browse view of a daily menu.
type MenuLister interface {
	ListMenu(ctx context.Context, date time.Time, meal reserve.MealType) ([]reserve.MenuListing, error)
}

// Dependencies carries the collaborators of the HTTP boundary.
type Dependencies struct {
	Reservations *reserve.ReservationService
	Payments     *reserve.PaymentService
	Reconciler   *reserve.Reconciler
	Menu         MenuLister
	Logger       *zap.Logger
}

// Server wires the gin router around the domain services.
type Server struct {
	cfg  Config
	deps Dependencies
}

// New validates the configuration and returns a Server.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Reservations == nil || deps.Payments == nil || deps.Reconciler == nil {
		return nil, errors.New("httpapi: reservation, payment and reconciler dependencies are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Register()
	return &Server{cfg: cfg, deps: deps}, nil
}

// Run serves HTTP until the context is cancelled.
func (server *Server) Run(ctx context.Context) error {
	router := server.setupRouter()
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		server.deps.Logger.Info("http api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.deps.Logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerUserID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/menu", server.handleMenu)
	api.POST("/orders", server.handlePlace)
	api.GET("/orders", server.handleListMine)
	api.DELETE("/orders/:id", server.handleCancel)
	api.PATCH("/orders/:id/status", server.handleTransition)
	api.GET("/orders/meal", server.handleListForMeal)
	api.POST("/orders/deliver", server.handleDeliver)
	api.POST("/payments/request", server.handlePaymentRequest)
	api.GET("/payments/callback", server.handlePaymentCallback)
	api.GET("/payments", server.handlePaymentHistory)
	api.POST("/tasks/reconcile", server.handleReconcile)

	return router
}

type placeRequest struct {
	FoodID          int64  `json:"food_id" binding:"required"`
	SlotID          int64  `json:"slot_id" binding:"required"`
	MealType        string `json:"meal_type" binding:"required"`
	ReservedDate    string `json:"reserved_date" binding:"required"`
	HasVoucher      bool   `json:"has_voucher"`
	HasExtraVoucher bool   `json:"has_extra_voucher"`
}

func (server *Server) handlePlace(ctx *gin.Context) {
	metrics.IncHTTP("place_order")
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	var request placeRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}
	meal, err := reserve.ParseMealType(request.MealType)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_meal_type", err.Error()))
		return
	}
	date, err := time.Parse(dateLayout, request.ReservedDate)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_date", "reserved_date must be YYYY-MM-DD"))
		return
	}
	reservation, err := server.deps.Reservations.Place(ctx.Request.Context(), reserve.PlaceInput{
		UserID:          userID,
		FoodID:          request.FoodID,
		SlotID:          request.SlotID,
		MealType:        meal,
		ReservedDate:    date,
		HasVoucher:      request.HasVoucher,
		HasExtraVoucher: request.HasExtraVoucher,
	})
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	metrics.IncPlaced(reservation.Status.String())
	ctx.JSON(http.StatusCreated, reservationPayloadFrom(reservation))
}

func (server *Server) handleListMine(ctx *gin.Context) {
	metrics.IncHTTP("list_orders")
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	reservations, err := server.deps.Reservations.ListMine(ctx.Request.Context(), userID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]reservationPayload, 0, len(reservations))
	for _, reservation := range reservations {
		payloads = append(payloads, reservationPayloadFrom(reservation))
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": payloads})
}

func (server *Server) handleCancel(ctx *gin.Context) {
	metrics.IncHTTP("cancel_order")
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	reservationID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", "order id must be numeric"))
		return
	}
	if err := server.deps.Reservations.Cancel(ctx.Request.Context(), reservationID, userID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
}

func (server *Server) handleTransition(ctx *gin.Context) {
	metrics.IncHTTP("order_status")
	reservationID, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", "order id must be numeric"))
		return
	}
	var request transitionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}
	status, err := reserve.ParseReservationStatus(request.Status)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_status", err.Error()))
		return
	}
	if err := server.deps.Reservations.Transition(ctx.Request.Context(), reservationID, status); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": status.String()})
}

func (server *Server) handleListForMeal(ctx *gin.Context) {
	metrics.IncHTTP("meal_orders")
	meal, err := reserve.ParseMealType(ctx.DefaultQuery("meal_type", reserve.MealLunch.String()))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_meal_type", err.Error()))
		return
	}
	date := time.Now().UTC()
	if raw := ctx.Query("date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_date", "date must be YYYY-MM-DD"))
			return
		}
		date = parsed
	}
	reservations, err := server.deps.Reservations.ListForMeal(ctx.Request.Context(), date, meal)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]reservationPayload, 0, len(reservations))
	for _, reservation := range reservations {
		payloads = append(payloads, reservationPayloadFrom(reservation))
	}
	ctx.JSON(http.StatusOK, gin.H{"orders": payloads})
}

type deliverRequest struct {
	DeliveryCode string `json:"delivery_code" binding:"required"`
	Date         string `json:"date"`
}

func (server *Server) handleDeliver(ctx *gin.Context) {
	metrics.IncHTTP("deliver_order")
	var request deliverRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}
	date := time.Now().UTC()
	if request.Date != "" {
		parsed, err := time.Parse(dateLayout, request.Date)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_date", "date must be YYYY-MM-DD"))
			return
		}
		date = parsed
	}
	reservation, err := server.deps.Reservations.Deliver(ctx.Request.Context(), request.DeliveryCode, date)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, reservationPayloadFrom(reservation))
}

func (server *Server) handleMenu(ctx *gin.Context) {
	metrics.IncHTTP("menu")
	if server.deps.Menu == nil {
		ctx.JSON(http.StatusNotFound, errorResponse("not_available", "menu browsing is not configured"))
		return
	}
	meal, err := reserve.ParseMealType(ctx.DefaultQuery("meal_type", reserve.MealLunch.String()))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_meal_type", err.Error()))
		return
	}
	date := time.Now().UTC()
	if raw := ctx.Query("date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_date", "date must be YYYY-MM-DD"))
			return
		}
		date = parsed
	}
	listings, err := server.deps.Menu.ListMenu(ctx.Request.Context(), date, meal)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]menuPayload, 0, len(listings))
	for _, listing := range listings {
		payloads = append(payloads, menuPayloadFrom(listing))
	}
	ctx.JSON(http.StatusOK, gin.H{"menu": payloads})
}

type paymentRequestBody struct {
	ReservationID int64 `json:"reservation_id" binding:"required"`
}

func (server *Server) handlePaymentRequest(ctx *gin.Context) {
	metrics.IncHTTP("payment_request")
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	var request paymentRequestBody
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", err.Error()))
		return
	}
	result, err := server.deps.Payments.Open(ctx.Request.Context(), userID, request.ReservationID, server.cfg.CallbackURL)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"payment":      paymentPayloadFrom(result.Payment),
		"redirect_url": result.RedirectURL,
	})
}

func (server *Server) handlePaymentCallback(ctx *gin.Context) {
	metrics.IncHTTP("payment_callback")
	authority := ctx.Query("Authority")
	if authority == "" {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", "Authority query parameter is required"))
		return
	}
	callbackOK := ctx.Query("Status") == "OK"
	payment, err := server.deps.Payments.Verify(ctx.Request.Context(), authority, callbackOK)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, paymentPayloadFrom(payment))
}

func (server *Server) handlePaymentHistory(ctx *gin.Context) {
	metrics.IncHTTP("payment_history")
	userID, ok := callerID(ctx)
	if !ok {
		return
	}
	filter := reserve.PaymentFilter{UserID: userID, Limit: server.cfg.HistoryLimit}
	if raw := ctx.Query("status"); raw != "" {
		status, err := reserve.ParsePaymentStatus(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_status", err.Error()))
			return
		}
		filter.Status = status
	}
	if raw := ctx.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", "offset must be a non-negative integer"))
			return
		}
		filter.Offset = offset
	}
	payments, total, err := server.deps.Payments.History(ctx.Request.Context(), filter)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payloads := make([]paymentPayload, 0, len(payments))
	for _, payment := range payments {
		payloads = append(payloads, paymentPayloadFrom(payment))
	}
	ctx.JSON(http.StatusOK, gin.H{"payments": payloads, "total": total})
}

func (server *Server) handleReconcile(ctx *gin.Context) {
	metrics.IncHTTP("reconcile")
	summary, err := server.deps.Reconciler.Run(ctx.Request.Context())
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	metrics.AddReconcileOutcomes(summary.ReversedCount, summary.UpdatedCount, summary.FailedCount, summary.SkippedCount)
	ctx.JSON(http.StatusOK, summary)
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		server.deps.Logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, reserve.ErrUnknownReservation),
		errors.Is(err, reserve.ErrUnknownPayment),
		errors.Is(err, reserve.ErrUnknownSlot),
		errors.Is(err, reserve.ErrUnknownMenuItem),
		errors.Is(err, reserve.ErrUnknownFood),
		errors.Is(err, reserve.ErrUnknownUser):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, reserve.ErrSlotFull),
		errors.Is(err, reserve.ErrItemUnavailable),
		errors.Is(err, reserve.ErrSlotExpired),
		errors.Is(err, reserve.ErrPaymentPending),
		errors.Is(err, reserve.ErrReservationNotPending),
		errors.Is(err, reserve.ErrInvalidTransition),
		errors.Is(err, reserve.ErrPaymentNotReversible),
		errors.Is(err, reserve.ErrPaymentClosed):
		return http.StatusConflict, "conflict"
	case errors.Is(err, reserve.ErrVoucherRequired),
		errors.Is(err, reserve.ErrExtraVoucherUnsupported),
		errors.Is(err, reserve.ErrNegativeTrustScore),
		errors.Is(err, reserve.ErrInvalidMealType),
		errors.Is(err, reserve.ErrInvalidReservationStatus),
		errors.Is(err, reserve.ErrInvalidPaymentStatus):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, reserve.ErrGatewayUnavailable):
		return http.StatusBadGateway, "gateway_unavailable"
	}
	var statusError *reserve.GatewayStatusError
	if errors.As(err, &statusError) {
		return http.StatusBadGateway, "gateway_declined"
	}
	return http.StatusInternalServerError, "internal"
}

func callerID(ctx *gin.Context) (int64, bool) {
	raw := ctx.GetHeader(headerUserID)
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing or invalid X-User-ID header"))
		return 0, false
	}
	return userID, true
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type reservationPayload struct {
	ID                int64  `json:"id"`
	FoodID            int64  `json:"food_id"`
	SlotID            int64  `json:"slot_id"`
	MealType          string `json:"meal_type"`
	ReservedDate      string `json:"reserved_date"`
	Price             int64  `json:"price"`
	OriginalPrice     int64  `json:"original_price"`
	Status            string `json:"status"`
	ReservationNumber int    `json:"reservation_number"`
	DeliveryCode      string `json:"delivery_code"`
	TrustScoreImpact  int    `json:"trust_score_impact"`
}

func reservationPayloadFrom(reservation reserve.Reservation) reservationPayload {
	return reservationPayload{
		ID:                reservation.ID,
		FoodID:            reservation.FoodID,
		SlotID:            reservation.SlotID,
		MealType:          reservation.MealType.String(),
		ReservedDate:      reservation.ReservedDate.Format(dateLayout),
		Price:             reservation.Price,
		OriginalPrice:     reservation.OriginalPrice,
		Status:            reservation.Status.String(),
		ReservationNumber: reservation.ReservationNumber,
		DeliveryCode:      reservation.DeliveryCode,
		TrustScoreImpact:  reservation.TrustScoreImpact,
	}
}

type paymentPayload struct {
	ID            string `json:"id"`
	ReservationID *int64 `json:"reservation_id,omitempty"`
	Amount        int64  `json:"amount"`
	Authority     string `json:"authority"`
	RefID         string `json:"ref_id,omitempty"`
	Status        string `json:"status"`
}

func paymentPayloadFrom(payment reserve.Payment) paymentPayload {
	return paymentPayload{
		ID:            payment.ID,
		ReservationID: payment.ReservationID,
		Amount:        payment.Amount,
		Authority:     payment.Authority,
		RefID:         payment.RefID,
		Status:        payment.Status.String(),
	}
}

type slotPayload struct {
	ID          int64  `json:"id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Capacity    int    `json:"capacity"`
	IsAvailable bool   `json:"is_available"`
}

type menuPayload struct {
	MenuItemID           int64         `json:"menu_item_id"`
	FoodID               int64         `json:"food_id"`
	FoodName             string        `json:"food_name"`
	Price                int64         `json:"price"`
	SupportsExtraVoucher bool          `json:"supports_extra_voucher"`
	DailyCapacity        int           `json:"daily_capacity"`
	IsAvailable          bool          `json:"is_available"`
	Slots                []slotPayload `json:"slots"`
}

func menuPayloadFrom(listing reserve.MenuListing) menuPayload {
	payload := menuPayload{
		MenuItemID:           listing.MenuItem.ID,
		FoodID:               listing.Food.ID,
		FoodName:             listing.Food.Name,
		Price:                listing.Food.Price,
		SupportsExtraVoucher: listing.Food.SupportsExtraVoucher,
		DailyCapacity:        listing.MenuItem.DailyCapacity,
		IsAvailable:          listing.MenuItem.IsAvailable,
	}
	for _, slot := range listing.Slots {
		payload.Slots = append(payload.Slots, slotPayload{
			ID:          slot.ID,
			StartTime:   slot.StartTime,
			EndTime:     slot.EndTime,
			Capacity:    slot.Capacity,
			IsAvailable: slot.IsAvailable,
		})
	}
	return payload
}
