package application

import (
	"context"
	"testing"

	funddomain "github.com/davinsptra/cryptobroker/internal/funding/domain"
	orderdomain "github.com/davinsptra/cryptobroker/internal/order/domain"
	"github.com/davinsptra/cryptobroker/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	err error
}

func (v fakeVerifier) VerifyWebhook(payload []byte, signature string) error { return v.err }

type fakeOrders struct {
	known    map[string]bool
	confirms map[string]int
	expires  map[string]int
}

func newFakeOrders(ids ...string) *fakeOrders {
	known := map[string]bool{}
	for _, id := range ids {
		known[id] = true
	}
	return &fakeOrders{known: known, confirms: map[string]int{}, expires: map[string]int{}}
}

func (o *fakeOrders) ConfirmSellDeposit(ctx context.Context, paymentID string) error {
	if !o.known[paymentID] {
		return orderdomain.ErrNotFound
	}
	o.confirms[paymentID]++
	return nil
}

func (o *fakeOrders) ExpireSellOrder(ctx context.Context, paymentID string) error {
	if !o.known[paymentID] {
		return orderdomain.ErrNotFound
	}
	o.expires[paymentID]++
	return nil
}

type fakeDeposits struct {
	known    map[string]bool
	confirms map[string]int
	cancels  map[string]int
}

func newFakeDeposits(ids ...string) *fakeDeposits {
	known := map[string]bool{}
	for _, id := range ids {
		known[id] = true
	}
	return &fakeDeposits{known: known, confirms: map[string]int{}, cancels: map[string]int{}}
}

func (d *fakeDeposits) ConfirmDepositByInvoice(ctx context.Context, invoiceID string) error {
	if !d.known[invoiceID] {
		return funddomain.ErrNotFound
	}
	d.confirms[invoiceID]++
	return nil
}

func (d *fakeDeposits) CancelDepositByInvoice(ctx context.Context, invoiceID string) error {
	if !d.known[invoiceID] {
		return funddomain.ErrNotFound
	}
	d.cancels[invoiceID]++
	return nil
}

func TestHandlePaidSellOrder(t *testing.T) {
	orders := newFakeOrders("pay-1")
	deposits := newFakeDeposits()
	r := NewReconciler(fakeVerifier{}, orders, deposits)

	body := []byte(`{"trackId":"pay-1","status":"Paid"}`)
	require.NoError(t, r.Handle(context.Background(), body, "sig"))
	assert.Equal(t, 1, orders.confirms["pay-1"])
	assert.Empty(t, deposits.confirms)

	// 回调重放直接交给下游幂等处理
	require.NoError(t, r.Handle(context.Background(), body, "sig"))
	assert.Equal(t, 2, orders.confirms["pay-1"])
}

func TestHandlePaidDepositInvoice(t *testing.T) {
	orders := newFakeOrders()
	deposits := newFakeDeposits("inv-1")
	r := NewReconciler(fakeVerifier{}, orders, deposits)

	require.NoError(t, r.Handle(context.Background(), []byte(`{"trackId":"inv-1","status":"Paid"}`), "sig"))
	assert.Equal(t, 1, deposits.confirms["inv-1"])
}

func TestHandleExpired(t *testing.T) {
	orders := newFakeOrders("pay-1")
	r := NewReconciler(fakeVerifier{}, orders, newFakeDeposits())

	require.NoError(t, r.Handle(context.Background(), []byte(`{"trackId":"pay-1","status":"Expired"}`), "sig"))
	assert.Equal(t, 1, orders.expires["pay-1"])
}

func TestHandleBadSignature(t *testing.T) {
	r := NewReconciler(fakeVerifier{err: provider.ErrBadSignature}, newFakeOrders(), newFakeDeposits())
	err := r.Handle(context.Background(), []byte(`{"trackId":"x","status":"Paid"}`), "bad")
	require.ErrorIs(t, err, provider.ErrBadSignature)
}

func TestHandleMissingTrackID(t *testing.T) {
	r := NewReconciler(fakeVerifier{}, newFakeOrders(), newFakeDeposits())
	err := r.Handle(context.Background(), []byte(`{"status":"Paid"}`), "sig")
	require.ErrorIs(t, err, ErrMissingTrackID)
}

func TestHandleMalformedPayload(t *testing.T) {
	r := NewReconciler(fakeVerifier{}, newFakeOrders(), newFakeDeposits())
	err := r.Handle(context.Background(), []byte(`not json`), "sig")
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestHandleUnknownTrackIDAcks(t *testing.T) {
	r := NewReconciler(fakeVerifier{}, newFakeOrders(), newFakeDeposits())
	require.NoError(t, r.Handle(context.Background(), []byte(`{"trackId":"ghost","status":"Paid"}`), "sig"))
}

func TestHandleIgnoredStatuses(t *testing.T) {
	orders := newFakeOrders("pay-1")
	r := NewReconciler(fakeVerifier{}, orders, newFakeDeposits())

	require.NoError(t, r.Handle(context.Background(), []byte(`{"trackId":"pay-1","status":"Confirming"}`), "sig"))
	assert.Empty(t, orders.confirms)
	assert.Empty(t, orders.expires)
}
