package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campuskitchen/dinehall/pkg/reserve"
)

var apiTestNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type memStore struct {
	users        map[int64]reserve.User
	foods        map[int64]reserve.Food
	slots        map[int64]reserve.TimeSlot
	items        map[int64]reserve.MenuItem
	reservations map[int64]*reserve.Reservation
	payments     map[string]*reserve.Payment
	audits       []reserve.AuditRecord
	nextID       int64
}

func newMemStore() *memStore {
	return &memStore{
		users: map[int64]reserve.User{
			7: {ID: 7, PhoneNumber: "09120000007", FirstName: "Sara", TrustScore: 3},
		},
		foods: map[int64]reserve.Food{
			1: {ID: 1, Name: "ghormeh sabzi", Price: 100000, SupportsExtraVoucher: true},
		},
		slots: map[int64]reserve.TimeSlot{
			1: {ID: 1, MenuItemID: 1, StartTime: "12:00", EndTime: "13:00", Capacity: 5, IsAvailable: true},
		},
		items: map[int64]reserve.MenuItem{
			1: {ID: 1, DailyMenuID: 1, FoodID: 1, DailyCapacity: 10, IsAvailable: true},
		},
		reservations: map[int64]*reserve.Reservation{},
		payments:     map[string]*reserve.Payment{},
	}
}

func (store *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore reserve.Store) error) error {
	return fn(ctx, store)
}

func (store *memStore) GetUser(_ context.Context, userID int64) (reserve.User, error) {
	user, found := store.users[userID]
	if !found {
		return reserve.User{}, reserve.ErrUnknownUser
	}
	return user, nil
}

func (store *memStore) AdjustTrustScore(_ context.Context, userID int64, delta int, _ time.Time) error {
	user, found := store.users[userID]
	if !found {
		return reserve.ErrUnknownUser
	}
	user.TrustScore += delta
	store.users[userID] = user
	return nil
}

func (store *memStore) GetFood(_ context.Context, foodID int64) (reserve.Food, error) {
	food, found := store.foods[foodID]
	if !found {
		return reserve.Food{}, reserve.ErrUnknownFood
	}
	return food, nil
}

func (store *memStore) GetSlotForUpdate(_ context.Context, slotID int64) (reserve.TimeSlot, error) {
	slot, found := store.slots[slotID]
	if !found {
		return reserve.TimeSlot{}, reserve.ErrUnknownSlot
	}
	return slot, nil
}

func (store *memStore) GetMenuItemForUpdate(_ context.Context, menuItemID int64) (reserve.MenuItem, error) {
	item, found := store.items[menuItemID]
	if !found {
		return reserve.MenuItem{}, reserve.ErrUnknownMenuItem
	}
	return item, nil
}

func (store *memStore) SetSlotCapacity(_ context.Context, slotID int64, capacity int, available bool) error {
	slot := store.slots[slotID]
	slot.Capacity = capacity
	slot.IsAvailable = available
	store.slots[slotID] = slot
	return nil
}

func (store *memStore) SetMenuItemCapacity(_ context.Context, menuItemID int64, capacity int, available bool) error {
	item := store.items[menuItemID]
	item.DailyCapacity = capacity
	item.IsAvailable = available
	store.items[menuItemID] = item
	return nil
}

func (store *memStore) LockDailyMenu(context.Context, time.Time, reserve.MealType) error {
	return nil
}

func (store *memStore) MaxReservationNumber(_ context.Context, date time.Time, meal reserve.MealType) (int, error) {
	max := 0
	for _, reservation := range store.reservations {
		if reservation.MealType == meal && sameAPIDay(reservation.ReservedDate, date) && reservation.ReservationNumber > max {
			max = reservation.ReservationNumber
		}
	}
	return max, nil
}

func (store *memStore) CreateReservation(_ context.Context, reservation *reserve.Reservation) error {
	store.nextID++
	reservation.ID = store.nextID
	clone := *reservation
	store.reservations[reservation.ID] = &clone
	return nil
}

func (store *memStore) GetReservation(_ context.Context, reservationID int64) (reserve.Reservation, error) {
	reservation, found := store.reservations[reservationID]
	if !found {
		return reserve.Reservation{}, reserve.ErrUnknownReservation
	}
	return *reservation, nil
}

func (store *memStore) GetReservationForUpdate(ctx context.Context, reservationID int64) (reserve.Reservation, error) {
	return store.GetReservation(ctx, reservationID)
}

func (store *memStore) UpdateReservationStatus(_ context.Context, reservationID int64, from, to reserve.ReservationStatus) error {
	reservation, found := store.reservations[reservationID]
	if !found || reservation.Status != from {
		return reserve.ErrInvalidTransition
	}
	reservation.Status = to
	return nil
}

func (store *memStore) SetReservationImpact(_ context.Context, reservationID int64, impact int) error {
	reservation, found := store.reservations[reservationID]
	if !found {
		return reserve.ErrUnknownReservation
	}
	reservation.TrustScoreImpact = impact
	return nil
}

func (store *memStore) FindReservationByDeliveryCode(_ context.Context, deliveryCode string, date time.Time) (reserve.Reservation, error) {
	for _, reservation := range store.reservations {
		if reservation.DeliveryCode == deliveryCode && sameAPIDay(reservation.ReservedDate, date) {
			return *reservation, nil
		}
	}
	return reserve.Reservation{}, reserve.ErrUnknownReservation
}

func (store *memStore) ListUserReservations(_ context.Context, userID int64) ([]reserve.Reservation, error) {
	var result []reserve.Reservation
	for _, reservation := range store.reservations {
		if reservation.UserID == userID {
			result = append(result, *reservation)
		}
	}
	return result, nil
}

func (store *memStore) ListReservationsForMeal(_ context.Context, date time.Time, meal reserve.MealType) ([]reserve.Reservation, error) {
	var result []reserve.Reservation
	for _, reservation := range store.reservations {
		if reservation.MealType == meal && sameAPIDay(reservation.ReservedDate, date) {
			result = append(result, *reservation)
		}
	}
	return result, nil
}

func (store *memStore) ListExpiredPendingPayment(context.Context, time.Time) ([]reserve.Reservation, error) {
	return nil, nil
}

func (store *memStore) CreatePayment(_ context.Context, payment *reserve.Payment) error {
	if payment.ID == "" {
		payment.ID = fmt.Sprintf("pay-%d", len(store.payments)+1)
	}
	clone := *payment
	store.payments[payment.ID] = &clone
	return nil
}

func (store *memStore) GetPayment(_ context.Context, paymentID string) (reserve.Payment, error) {
	payment, found := store.payments[paymentID]
	if !found {
		return reserve.Payment{}, reserve.ErrUnknownPayment
	}
	return *payment, nil
}

func (store *memStore) GetPaymentForUpdate(ctx context.Context, paymentID string) (reserve.Payment, error) {
	return store.GetPayment(ctx, paymentID)
}

func (store *memStore) GetPaymentByAuthority(_ context.Context, authority string) (reserve.Payment, error) {
	for _, payment := range store.payments {
		if payment.Authority == authority {
			return *payment, nil
		}
	}
	return reserve.Payment{}, reserve.ErrUnknownPayment
}

func (store *memStore) HasPendingPayment(_ context.Context, reservationID int64) (bool, error) {
	for _, payment := range store.payments {
		if payment.ReservationID != nil && *payment.ReservationID == reservationID && payment.Status == reserve.PaymentPending {
			return true, nil
		}
	}
	return false, nil
}

func (store *memStore) UpdatePaymentStatus(_ context.Context, paymentID string, from, to reserve.PaymentStatus) error {
	payment, found := store.payments[paymentID]
	if !found || payment.Status != from {
		return reserve.ErrPaymentClosed
	}
	payment.Status = to
	return nil
}

func (store *memStore) SetPaymentRefID(_ context.Context, paymentID string, refID string) error {
	payment, found := store.payments[paymentID]
	if !found {
		return reserve.ErrUnknownPayment
	}
	payment.RefID = refID
	return nil
}

func (store *memStore) UpdateFailureDetails(_ context.Context, paymentID string, details *reserve.FailureDetails) error {
	payment, found := store.payments[paymentID]
	if !found {
		return reserve.ErrUnknownPayment
	}
	payment.FailureDetails = details
	return nil
}

func (store *memStore) ListFailedCandidates(context.Context, time.Time) ([]reserve.Payment, error) {
	return nil, nil
}

func (store *memStore) ListPendingCandidates(context.Context, time.Time) ([]reserve.Payment, error) {
	return nil, nil
}

func (store *memStore) ListPayments(_ context.Context, filter reserve.PaymentFilter) ([]reserve.Payment, int64, error) {
	var result []reserve.Payment
	for _, payment := range store.payments {
		if filter.UserID > 0 && payment.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && payment.Status != filter.Status {
			continue
		}
		result = append(result, *payment)
	}
	return result, int64(len(result)), nil
}

func (store *memStore) CreateAuditRecord(_ context.Context, record reserve.AuditRecord) error {
	store.audits = append(store.audits, record)
	return nil
}

func sameAPIDay(left, right time.Time) bool {
	return left.Format("2006-01-02") == right.Format("2006-01-02")
}

type memGateway struct {
	requests  int
	verifies  int
	verifyErr error
}

func (gateway *memGateway) RequestPayment(context.Context, reserve.PaymentRequest) (string, string, error) {
	gateway.requests++
	authority := fmt.Sprintf("A%04d", gateway.requests)
	return authority, "https://pay.example/start/" + authority, nil
}

func (gateway *memGateway) VerifyPayment(context.Context, int64, string) (string, error) {
	gateway.verifies++
	if gateway.verifyErr != nil {
		return "", gateway.verifyErr
	}
	return "424242", nil
}

func (gateway *memGateway) InquirePayment(context.Context, string) (reserve.InquiryResult, error) {
	return reserve.InquiryResult{Status: reserve.GatewayStatusVerified, RefID: "ref-1"}, nil
}

func (gateway *memGateway) ReversePayment(context.Context, string) error {
	return nil
}

type memMenu struct {
	listings []reserve.MenuListing
}

func (menu *memMenu) ListMenu(context.Context, time.Time, reserve.MealType) ([]reserve.MenuListing, error) {
	return menu.listings, nil
}

type apiHarness struct {
	router  http.Handler
	store   *memStore
	gateway *memGateway
}

func newAPIHarness(test *testing.T) *apiHarness {
	test.Helper()
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	gateway := &memGateway{}
	nowFn := func() time.Time { return apiTestNow }

	reservations, err := reserve.NewReservationService(store, reserve.DefaultPolicy(), nowFn, reserve.WithRand(func(int) int { return 7 }))
	if err != nil {
		test.Fatalf("NewReservationService: %v", err)
	}
	payments, err := reserve.NewPaymentService(store, gateway, reserve.DefaultPolicy(), nowFn)
	if err != nil {
		test.Fatalf("NewPaymentService: %v", err)
	}
	reconciler, err := reserve.NewReconciler(store, gateway, payments, reserve.DefaultPolicy(), nowFn, nil)
	if err != nil {
		test.Fatalf("NewReconciler: %v", err)
	}

	menu := &memMenu{listings: []reserve.MenuListing{{
		MenuItem: store.items[1],
		Food:     store.foods[1],
		Slots:    []reserve.TimeSlot{store.slots[1]},
	}}}

	server, err := New(Config{CallbackURL: "https://dinehall.example/api/payments/callback"}, Dependencies{
		Reservations: reservations,
		Payments:     payments,
		Reconciler:   reconciler,
		Menu:         menu,
	})
	if err != nil {
		test.Fatalf("New: %v", err)
	}
	return &apiHarness{router: server.setupRouter(), store: store, gateway: gateway}
}

func (harness *apiHarness) do(test *testing.T, method, path string, body any, userID string) *httptest.ResponseRecorder {
	test.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			test.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		request.Header.Set(headerUserID, userID)
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(test *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	test.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		test.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func placeOrderBody() map[string]any {
	return map[string]any{
		"food_id":       1,
		"slot_id":       1,
		"meal_type":     "lunch",
		"reserved_date": apiTestNow.Format(dateLayout),
	}
}

func TestPlaceOrderCreatesReservation(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)

	recorder := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["status"] != "pending_payment" {
		test.Fatalf("expected pending_payment, got %v", payload["status"])
	}
	if payload["delivery_code"] != "000107" {
		test.Fatalf("unexpected delivery code %v", payload["delivery_code"])
	}
	if harness.store.slots[1].Capacity != 4 {
		test.Fatalf("expected slot capacity 4, got %d", harness.store.slots[1].Capacity)
	}
}

func TestPlaceOrderRequiresIdentity(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)

	recorder := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "")
	if recorder.Code != http.StatusUnauthorized {
		test.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestPlaceOrderRejectsBadMealType(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)

	body := placeOrderBody()
	body["meal_type"] = "brunch"
	recorder := harness.do(test, http.MethodPost, "/api/orders", body, "7")
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestPlaceOrderReportsFullSlotAsConflict(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	slot := harness.store.slots[1]
	slot.Capacity = 0
	slot.IsAvailable = false
	harness.store.slots[1] = slot

	recorder := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	if recorder.Code != http.StatusConflict {
		test.Fatalf("expected 409, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestCancelOrderReleasesCapacity(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	if created.Code != http.StatusCreated {
		test.Fatalf("place failed: %s", created.Body.String())
	}
	orderID := int64(decodeBody(test, created)["id"].(float64))

	recorder := harness.do(test, http.MethodDelete, fmt.Sprintf("/api/orders/%d", orderID), nil, "7")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if harness.store.slots[1].Capacity != 5 {
		test.Fatalf("expected slot capacity restored to 5, got %d", harness.store.slots[1].Capacity)
	}
}

func TestCancelForeignOrderIsNotFound(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	harness.store.users[8] = reserve.User{ID: 8, PhoneNumber: "09120000008", TrustScore: 1}
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	orderID := int64(decodeBody(test, created)["id"].(float64))

	recorder := harness.do(test, http.MethodDelete, fmt.Sprintf("/api/orders/%d", orderID), nil, "8")
	if recorder.Code != http.StatusNotFound {
		test.Fatalf("expected 404, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestTransitionOrderStatus(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	orderID := int64(decodeBody(test, created)["id"].(float64))
	harness.store.reservations[orderID].Status = reserve.ReservationWaiting

	recorder := harness.do(test, http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", orderID), map[string]any{"status": "preparing"}, "7")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if harness.store.reservations[orderID].Status != reserve.ReservationPreparing {
		test.Fatalf("expected preparing, got %s", harness.store.reservations[orderID].Status)
	}
}

func TestTransitionRejectsIllegalMove(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	orderID := int64(decodeBody(test, created)["id"].(float64))

	recorder := harness.do(test, http.MethodPatch, fmt.Sprintf("/api/orders/%d/status", orderID), map[string]any{"status": "picked_up"}, "7")
	if recorder.Code != http.StatusConflict {
		test.Fatalf("expected 409, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestDeliverOrderByCode(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	orderID := int64(decodeBody(test, created)["id"].(float64))
	harness.store.reservations[orderID].Status = reserve.ReservationReadyToPickup

	recorder := harness.do(test, http.MethodPost, "/api/orders/deliver", map[string]any{
		"delivery_code": "000107",
		"date":          apiTestNow.Format(dateLayout),
	}, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if decodeBody(test, recorder)["status"] != "picked_up" {
		test.Fatalf("expected picked_up, got %s", recorder.Body.String())
	}
}

func TestMealListingShowsPlacedOrders(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	if created.Code != http.StatusCreated {
		test.Fatalf("place failed: %s", created.Body.String())
	}

	recorder := harness.do(test, http.MethodGet, "/api/orders/meal?meal_type=lunch&date="+apiTestNow.Format(dateLayout), nil, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	orders, ok := decodeBody(test, recorder)["orders"].([]any)
	if !ok || len(orders) != 1 {
		test.Fatalf("expected one order for the meal, got %s", recorder.Body.String())
	}
}

func TestMenuListsAvailableItems(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)

	recorder := harness.do(test, http.MethodGet, "/api/menu?meal_type=lunch&date="+apiTestNow.Format(dateLayout), nil, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	menu, ok := payload["menu"].([]any)
	if !ok || len(menu) != 1 {
		test.Fatalf("expected one menu entry, got %v", payload["menu"])
	}
	entry := menu[0].(map[string]any)
	if entry["food_name"] != "ghormeh sabzi" {
		test.Fatalf("unexpected food name %v", entry["food_name"])
	}
}

func TestPaymentRequestReturnsRedirect(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	orderID := int64(decodeBody(test, created)["id"].(float64))

	recorder := harness.do(test, http.MethodPost, "/api/payments/request", map[string]any{"reservation_id": orderID}, "7")
	if recorder.Code != http.StatusCreated {
		test.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["redirect_url"] != "https://pay.example/start/A0001" {
		test.Fatalf("unexpected redirect %v", payload["redirect_url"])
	}
	if harness.gateway.requests != 1 {
		test.Fatalf("expected one gateway request, got %d", harness.gateway.requests)
	}
}

func TestPaymentCallbackPromotesReservation(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	orderID := int64(decodeBody(test, created)["id"].(float64))
	harness.do(test, http.MethodPost, "/api/payments/request", map[string]any{"reservation_id": orderID}, "7")

	recorder := harness.do(test, http.MethodGet, "/api/payments/callback?Authority=A0001&Status=OK", nil, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if decodeBody(test, recorder)["status"] != "paid" {
		test.Fatalf("expected paid payment, got %s", recorder.Body.String())
	}
	if harness.store.reservations[orderID].Status != reserve.ReservationWaiting {
		test.Fatalf("expected waiting reservation, got %s", harness.store.reservations[orderID].Status)
	}
}

func TestPaymentCallbackAbortCancelsReservation(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	orderID := int64(decodeBody(test, created)["id"].(float64))
	harness.do(test, http.MethodPost, "/api/payments/request", map[string]any{"reservation_id": orderID}, "7")

	recorder := harness.do(test, http.MethodGet, "/api/payments/callback?Authority=A0001&Status=NOK", nil, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if decodeBody(test, recorder)["status"] != "failed" {
		test.Fatalf("expected failed payment, got %s", recorder.Body.String())
	}
	if harness.store.reservations[orderID].Status != reserve.ReservationCancelled {
		test.Fatalf("expected cancelled reservation, got %s", harness.store.reservations[orderID].Status)
	}
	if harness.gateway.verifies != 0 {
		test.Fatalf("expected no gateway verify on abort, got %d", harness.gateway.verifies)
	}
}

func TestPaymentCallbackRequiresAuthority(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)

	recorder := harness.do(test, http.MethodGet, "/api/payments/callback?Status=OK", nil, "")
	if recorder.Code != http.StatusBadRequest {
		test.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestPaymentHistoryFiltersByStatus(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)
	created := harness.do(test, http.MethodPost, "/api/orders", placeOrderBody(), "7")
	orderID := int64(decodeBody(test, created)["id"].(float64))
	harness.do(test, http.MethodPost, "/api/payments/request", map[string]any{"reservation_id": orderID}, "7")
	harness.do(test, http.MethodGet, "/api/payments/callback?Authority=A0001&Status=OK", nil, "")

	recorder := harness.do(test, http.MethodGet, "/api/payments?status=paid", nil, "7")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	payments, ok := payload["payments"].([]any)
	if !ok || len(payments) != 1 {
		test.Fatalf("expected one paid payment, got %v", payload["payments"])
	}

	empty := harness.do(test, http.MethodGet, "/api/payments?status=failed", nil, "7")
	if total := decodeBody(test, empty)["total"].(float64); total != 0 {
		test.Fatalf("expected no failed payments, got %v", total)
	}
}

func TestReconcileEndpointReturnsSummary(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)

	recorder := harness.do(test, http.MethodPost, "/api/tasks/reconcile", nil, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeBody(test, recorder)
	if payload["total_checked"].(float64) != 0 {
		test.Fatalf("expected empty run, got %v", payload["total_checked"])
	}
}

func TestHealthz(test *testing.T) {
	test.Parallel()
	harness := newAPIHarness(test)

	recorder := harness.do(test, http.MethodGet, "/healthz", nil, "")
	if recorder.Code != http.StatusOK {
		test.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestNewRequiresCallbackURL(test *testing.T) {
	test.Parallel()
	if _, err := New(Config{}, Dependencies{}); err == nil {
		test.Fatal("expected config error")
	}
}
