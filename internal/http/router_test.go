package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apphttp "globlept.co.uk/app/internal/http"
	"globlept.co.uk/app/internal/http/middleware"
	"globlept.co.uk/app/internal/logging"
	"globlept.co.uk/app/internal/modules/notify"
	"globlept.co.uk/app/internal/modules/orders"
	"globlept.co.uk/app/internal/modules/payments"
	"globlept.co.uk/app/internal/modules/prescriptions"
	"globlept.co.uk/app/internal/modules/users"
	"globlept.co.uk/app/internal/storage"
	"globlept.co.uk/app/internal/testutil"
)

const (
	jwtSecret     = "test-jwt-secret"
	jwtIssuer     = "identity.test"
	webhookSecret = "whsec_router_test"
)

func init() { gin.SetMode(gin.TestMode) }

type server struct {
	t       *testing.T
	handler http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.NewDB(t,
		&users.User{},
		&prescriptions.Prescription{}, &prescriptions.Event{},
		&orders.Order{}, &orders.FinancialEntry{},
		&payments.PaymentIntent{}, &payments.ProviderEvent{}, &payments.Refund{},
	)
	require.NoError(t, db.Create([]users.User{
		{ID: 1, Email: "pharm@globlept.co.uk", Name: "Pharm", Role: "staff"},
		{ID: 2, Email: "admin@globlept.co.uk", Name: "Admin", Role: "admin"},
		{ID: 100, Email: "ada@example.com", Name: "Ada", Role: "customer"},
	}).Error)

	log := logging.Discard()
	var sender notify.Nop
	proc := payments.NewMockProcessor(webhookSecret, false)

	intents := payments.NewIntentService(db, proc, payments.IntentConfig{Timeout: time.Second})
	rx := prescriptions.NewService(db, storage.NewLocal(t.TempDir(), "/documents"), sender, "GBP")
	rx.SetIntentReleaser(intents)
	review := prescriptions.NewReviewService(db, users.NewDirectory(db), sender)
	review.SetIntentReleaser(intents)
	recon := payments.NewReconciler(db, proc, orders.NewMaterializer(), sender, time.Second)
	refunds := payments.NewRefundService(db, proc, sender, time.Second)
	hooks := payments.NewWebhookService(db, recon, refunds)
	for _, s := range []interface{ SetLogger(*slog.Logger) }{intents, rx, review, recon, refunds, hooks} {
		s.SetLogger(log)
	}

	r := apphttp.NewRouter(log, apphttp.Deps{
		DB:            db,
		Tokens:        middleware.NewTokenVerifier(jwtSecret, jwtIssuer),
		Prescriptions: rx,
		Review:        review,
		Fulfillment:   orders.NewFulfillmentService(db, sender),
		Intents:       intents,
		Reconciler:    recon,
		Webhooks:      hooks,
		Refunds:       refunds,
		Processors:    []payments.Processor{proc},
	})
	return &server{t: t, handler: r}
}

func token(t *testing.T, id uint64, role string, ttl time.Duration) string {
	t.Helper()
	claims := middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(id, 10),
			Issuer:    jwtIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

var (
	customerTok = func(t *testing.T) string { return token(t, 100, "customer", time.Hour) }
	staffTok    = func(t *testing.T) string { return token(t, 1, "staff", time.Hour) }
)

func (s *server) do(method, path, tok string, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func submission() map[string]any {
	return map[string]any{
		"medicines": []map[string]any{{"name": "Amoxicillin 500mg", "quantity": 21}},
		"dosage":    "one capsule three times a day",
		"delivery_address": map[string]any{
			"name": "Ada Lovelace", "line1": "1 St James's Square", "city": "London",
			"postcode": "SW1Y 4JU", "country": "GB",
		},
	}
}

func (s *server) submit() uint64 {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/v1/prescriptions", customerTok(s.t), submission())
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return uint64(decode(s.t, w)["id"].(float64))
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestPrescriptionToDispatchOverHTTP(t *testing.T) {
	s := newServer(t)
	id := s.submit()
	base := fmt.Sprintf("/api/v1/prescriptions/%d", id)

	w := s.do(http.MethodPost, base+"/approve", staffTok(t), map[string]any{"price": "12.50"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rx := decode(t, w)
	assert.Equal(t, "approved", rx["status"])
	assert.Equal(t, true, rx["payable"])
	assert.Equal(t, "12.50", rx["price"].(map[string]any)["amount"])

	w = s.do(http.MethodPost, base+"/payment-intent", customerTok(t), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	intentRef := decode(t, w)["intent_ref"].(string)

	// Same intent is handed back while it is live.
	w = s.do(http.MethodPost, base+"/payment-intent", customerTok(t), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, intentRef, decode(t, w)["intent_ref"])

	var ev payments.MockPayload
	ev.ID = "evt_router_1"
	ev.Type = payments.EventPaymentSucceeded
	ev.Data.IntentRef = intentRef
	ev.Data.AmountMinor = 1250
	ev.Data.Currency = "GBP"
	body, _ := json.Marshal(ev)
	sig := payments.SignMockPayload([]byte(webhookSecret), time.Now(), body)

	w = s.do(http.MethodPost, "/api/v1/webhooks/mock", "", body, payments.MockSignatureHeader, sig)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, base+"/confirm-payment", customerTok(t), map[string]any{"payment_intent_id": intentRef})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	conf := decode(t, w)
	assert.Equal(t, true, conf["already_reconciled"])
	order := conf["order"].(map[string]any)
	assert.Equal(t, "confirmed", order["status"])
	assert.Equal(t, "12.50", order["total"].(map[string]any)["amount"])
	orderID := uint64(order["id"].(float64))

	w = s.do(http.MethodPost, fmt.Sprintf("/api/v1/orders/%d/dispatch", orderID), staffTok(t),
		map[string]any{"tracking_number": "RM123456789GB", "courier": "Royal Mail"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "dispatched", decode(t, w)["status"])

	w = s.do(http.MethodGet, base, customerTok(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	rx = decode(t, w)
	assert.Equal(t, "dispatched", rx["status"])
	assert.Equal(t, "paid", rx["payment_status"])
	assert.Equal(t, "RM123456789GB", rx["tracking_number"])

	w = s.do(http.MethodGet, fmt.Sprintf("/api/v1/orders/%d/ledger", orderID), staffTok(t), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode(t, w)["entries"], 1)
}

func TestAuthenticationAtTheEdge(t *testing.T) {
	s := newServer(t)

	cases := []struct {
		name   string
		header string
		want   int
		msg    string
	}{
		{"no token", "", http.StatusUnauthorized, "Authentication required."},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "Malformed Authorization header."},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, "Invalid access token."},
		{"expired", "Bearer " + token(t, 100, "customer", -time.Minute), http.StatusUnauthorized, "Access token expired."},
		{"unknown role", "Bearer " + token(t, 100, "wizard", time.Hour), http.StatusUnauthorized, "Invalid access token."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			s.handler.ServeHTTP(w, req)

			assert.Equal(t, tc.want, w.Code)
			body := decode(t, w)
			assert.Equal(t, tc.msg, body["error"])
			assert.Equal(t, "unauthorized", body["code"])
		})
	}
}

func TestRoleGates(t *testing.T) {
	s := newServer(t)
	id := s.submit()

	w := s.do(http.MethodPost, fmt.Sprintf("/api/v1/prescriptions/%d/price", id), customerTok(t), map[string]any{"price": 9.99})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode(t, w)["code"])

	w = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/prescriptions/%d", id), staffTok(t), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, fmt.Sprintf("/api/v1/prescriptions/%d", id), token(t, 2, "admin", time.Hour), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Another customer cannot read it.
	id = s.submit()
	w = s.do(http.MethodGet, fmt.Sprintf("/api/v1/prescriptions/%d", id), token(t, 101, "customer", time.Hour), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestInvalidStateCarriesAllowedTransitions(t *testing.T) {
	s := newServer(t)
	id := s.submit()

	w := s.do(http.MethodPost, fmt.Sprintf("/api/v1/prescriptions/%d/payment-intent", id), customerTok(t), nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "invalid_state", body["code"])
	assert.Equal(t, "pending", body["current_status"])
	assert.ElementsMatch(t, []any{"processing", "approved", "rejected", "cancelled"}, body["allowed_transitions"])
	assert.NotEmpty(t, body["request_id"])

	w = s.do(http.MethodPost, fmt.Sprintf("/api/v1/prescriptions/%d/reject", id), staffTok(t), map[string]any{"reason": "illegible"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, fmt.Sprintf("/api/v1/prescriptions/%d/approve", id), staffTok(t), map[string]any{"price": "5.00"})
	require.Equal(t, http.StatusConflict, w.Code)
	body = decode(t, w)
	assert.Equal(t, "rejected", body["current_status"])
	assert.Empty(t, body["allowed_transitions"])
}

func TestValidationErrorsAreKeyedByJSONPath(t *testing.T) {
	s := newServer(t)

	in := submission()
	in["medicines"] = []map[string]any{}
	in["delivery_address"].(map[string]any)["postcode"] = ""

	w := s.do(http.MethodPost, "/api/v1/prescriptions", customerTok(t), in)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "invalid", body["code"])
	fields := body["fields"].(map[string]any)
	assert.Contains(t, fields, "medicines")
	assert.Contains(t, fields, "delivery_address.postcode")

	w = s.do(http.MethodPost, "/api/v1/prescriptions", customerTok(t), []byte(`{"medicines":`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	id := s.submit()
	w = s.do(http.MethodPost, fmt.Sprintf("/api/v1/prescriptions/%d/price", id), staffTok(t), map[string]any{"price": "-1"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["fields"], "price")

	w = s.do(http.MethodGet, "/api/v1/prescriptions?status=lost", customerTok(t), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/prescriptions/abc", customerTok(t), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMultipartSubmissionStoresDocuments(t *testing.T) {
	s := newServer(t)

	payload, _ := json.Marshal(submission())
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("payload", string(payload)))
	fw, err := mw.CreateFormFile("documents", "scan.pdf")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("%PDF-1.4 test"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+customerTok(t))
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	docs := decode(t, w)["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Regexp(t, `^/documents/.+\.pdf$`, docs[0])
}

func TestWebhookRejections(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/v1/webhooks/mock", "", []byte(`{"id":"evt_1","type":"payment.succeeded"}`),
		payments.MockSignatureHeader, "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1/webhooks/paypal", "", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListScopesToCaller(t *testing.T) {
	s := newServer(t)
	s.submit()
	s.submit()

	w := s.do(http.MethodGet, "/api/v1/prescriptions?page_size=1", customerTok(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.EqualValues(t, 2, page["total"])
	assert.Len(t, page["items"], 1)

	w = s.do(http.MethodGet, "/api/v1/prescriptions", token(t, 101, "customer", time.Hour), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["total"])

	w = s.do(http.MethodGet, "/api/v1/prescriptions?status=pending", staffTok(t), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["total"])
}
