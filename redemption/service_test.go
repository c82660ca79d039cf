package redemption_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rewards-backend/apperr"
	"rewards-backend/auth"
	"rewards-backend/catalog"
	"rewards-backend/ledger"
	"rewards-backend/models"
	"rewards-backend/notify"
	"rewards-backend/redemption"
	"rewards-backend/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	clock  *testutil.Clock
	ledger *ledger.Ledger
	svc    *redemption.Service
	sent   *notify.Recorder
}

func newFixture(t *testing.T, opts ...func(*redemption.Options)) fixture {
	db := testutil.NewDB(t)
	clock := testutil.NewClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	l := ledger.New(db, ledger.Options{Tx: testutil.TxOptions(), Now: clock.Now})
	sent := &notify.Recorder{}
	o := redemption.Options{
		Notifier: sent,
		Tx:       testutil.TxOptions(),
		Now:      clock.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return fixture{db: db, clock: clock, ledger: l, sent: sent, svc: redemption.NewService(db, l, o)}
}

func (f fixture) user(t *testing.T, balance int64) auth.Context {
	t.Helper()
	id := uuid.New()
	testutil.SeedBalance(t, f.db, id, balance)
	return auth.Context{UserID: id, Role: "customer"}
}

func (f fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, f.db.First(&p, "id = ?", id).Error)
	return p.Stock
}

func (f fixture) balance(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	stats, err := f.ledger.GetStats(context.Background(), userID)
	require.NoError(t, err)
	return stats.Balance
}

func TestAddToCartMergesQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 0)
	p := testutil.SeedProduct(t, f.db, "Mug", 50, 10)

	_, err := f.svc.AddToCart(ctx, ac, redemption.AddToCartRequest{ProductID: p.ID})
	require.NoError(t, err)
	item, err := f.svc.AddToCart(ctx, ac, redemption.AddToCartRequest{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, item.Quantity)
	require.NotNil(t, item.Product)
	assert.Equal(t, "Mug", item.Product.Name)

	cart, err := f.svc.GetCart(ctx, ac)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, int64(150), cart.TotalPoints)
	assert.Equal(t, 3, cart.ItemCount)
}

func TestAddToCartRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 0)

	inactive := testutil.SeedProduct(t, f.db, "Old", 10, 5, testutil.Inactive())
	premium := testutil.SeedProduct(t, f.db, "Lounge", 10, 5, testutil.PremiumOnly())
	once := testutil.SeedProduct(t, f.db, "Welcome kit", 10, 5, testutil.OneTime())
	scarce := testutil.SeedProduct(t, f.db, "Rare", 10, 1)

	cases := []struct {
		name string
		req  redemption.AddToCartRequest
		want error
	}{
		{"unknown product", redemption.AddToCartRequest{ProductID: uuid.New()}, apperr.ErrProductUnavailable},
		{"inactive", redemption.AddToCartRequest{ProductID: inactive.ID}, apperr.ErrProductUnavailable},
		{"premium only", redemption.AddToCartRequest{ProductID: premium.ID}, apperr.ErrPremiumRequired},
		{"one time quantity", redemption.AddToCartRequest{ProductID: once.ID, Quantity: 2}, apperr.ErrValidation},
		{"over stock", redemption.AddToCartRequest{ProductID: scarce.ID, Quantity: 2}, apperr.ErrOutOfStock},
		{"negative quantity", redemption.AddToCartRequest{ProductID: scarce.ID, Quantity: -1}, apperr.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AddToCart(ctx, ac, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	expiry := f.clock.Now().Add(time.Hour)
	member := auth.Context{UserID: ac.UserID, IsPremiumActive: true, PremiumExpiry: &expiry}
	_, err := f.svc.AddToCart(ctx, member, redemption.AddToCartRequest{ProductID: premium.ID})
	assert.NoError(t, err)
}

func TestAddToCartCapsOneTimeItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 0)
	once := testutil.SeedProduct(t, f.db, "Welcome kit", 10, 5, testutil.OneTime())

	_, err := f.svc.AddToCart(ctx, ac, redemption.AddToCartRequest{ProductID: once.ID})
	require.NoError(t, err)
	item, err := f.svc.AddToCart(ctx, ac, redemption.AddToCartRequest{ProductID: once.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, item.Quantity)
}

func TestUpdateAndRemoveCartItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 0)
	other := f.user(t, 0)
	p := testutil.SeedProduct(t, f.db, "Mug", 50, 3)
	item := testutil.SeedCartItem(t, f.db, ac.UserID, p, 1)

	updated, err := f.svc.UpdateCartItem(ctx, ac, item.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Quantity)

	_, err = f.svc.UpdateCartItem(ctx, ac, item.ID, 4)
	assert.ErrorIs(t, err, apperr.ErrOutOfStock)
	_, err = f.svc.UpdateCartItem(ctx, ac, item.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.UpdateCartItem(ctx, other, item.ID, 1)
	assert.ErrorIs(t, err, apperr.ErrCartItemNotFound)

	assert.ErrorIs(t, f.svc.RemoveFromCart(ctx, other, item.ID), apperr.ErrCartItemNotFound)
	require.NoError(t, f.svc.RemoveFromCart(ctx, ac, item.ID))
	assert.ErrorIs(t, f.svc.RemoveFromCart(ctx, ac, item.ID), apperr.ErrCartItemNotFound)
}

func TestClearCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 0)
	testutil.SeedCartItem(t, f.db, ac.UserID, testutil.SeedProduct(t, f.db, "A", 10, 5), 1)
	testutil.SeedCartItem(t, f.db, ac.UserID, testutil.SeedProduct(t, f.db, "B", 10, 5), 2)

	n, err := f.svc.ClearCart(ctx, ac)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	cart, err := f.svc.GetCart(ctx, ac)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 500)
	mug := testutil.SeedProduct(t, f.db, "Mug", 100, 5)
	voucher := testutil.SeedProduct(t, f.db, "Voucher", 50, 0, testutil.Digital(30))
	testutil.SeedCartItem(t, f.db, ac.UserID, mug, 2)
	testutil.SeedCartItem(t, f.db, ac.UserID, voucher, 1)

	res, err := f.svc.Checkout(ctx, ac, redemption.CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(250), res.PointsSpent)
	assert.Equal(t, int64(250), res.RemainingBalance)
	require.Len(t, res.Redemptions, 2)

	byProduct := map[uuid.UUID]models.Redemption{}
	for _, r := range res.Redemptions {
		require.NotNil(t, r.ClaimCode)
		assert.Regexp(t, `^R-[0-9A-F]{6}-[0-9A-Z]{4}$`, *r.ClaimCode)
		assert.Equal(t, models.RedemptionPending, r.Status)
		assert.NotEqual(t, uuid.Nil, r.TransactionID)
		byProduct[r.ProductID] = r
	}
	assert.Equal(t, int64(200), byProduct[mug.ID].PointsSpent)
	assert.Nil(t, byProduct[mug.ID].ExpiresAt)
	require.NotNil(t, byProduct[voucher.ID].ExpiresAt)
	assert.Equal(t, f.clock.Now().AddDate(0, 0, 30), *byProduct[voucher.ID].ExpiresAt)

	assert.Equal(t, 3, f.stock(t, mug.ID))
	assert.Equal(t, 0, f.stock(t, voucher.ID), "digital stock is not tracked")
	assert.Equal(t, int64(250), f.balance(t, ac.UserID))
	require.NoError(t, f.ledger.VerifyInvariant(ctx, ac.UserID))

	cart, err := f.svc.GetCart(ctx, ac)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Len(t, f.sent.OfKind(notify.KindRedemptionReady), 2)
}

func TestCheckoutSelectedProducts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 500)
	a := testutil.SeedProduct(t, f.db, "A", 100, 5)
	b := testutil.SeedProduct(t, f.db, "B", 100, 5)
	testutil.SeedCartItem(t, f.db, ac.UserID, a, 1)
	testutil.SeedCartItem(t, f.db, ac.UserID, b, 1)

	res, err := f.svc.Checkout(ctx, ac, redemption.CheckoutRequest{ProductIDs: []uuid.UUID{b.ID}})
	require.NoError(t, err)
	require.Len(t, res.Redemptions, 1)
	assert.Equal(t, b.ID, res.Redemptions[0].ProductID)

	cart, err := f.svc.GetCart(ctx, ac)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, a.ID, cart.Items[0].ProductID)
}

func TestCheckoutIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 100)
	p := testutil.SeedProduct(t, f.db, "Headphones", 150, 4)
	testutil.SeedCartItem(t, f.db, ac.UserID, p, 1)

	_, err := f.svc.Checkout(ctx, ac, redemption.CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrInsufficientPoints)

	assert.Equal(t, int64(100), f.balance(t, ac.UserID))
	assert.Equal(t, 4, f.stock(t, p.ID))
	cart, err := f.svc.GetCart(ctx, ac)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)

	var n int64
	require.NoError(t, f.db.Model(&models.Redemption{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Empty(t, f.sent.Sent())
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), f.user(t, 100), redemption.CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

// A checkout that commits first consumes the cart lines. The second one must
// not charge again for lines it can no longer remove.
func TestCheckoutRejectsConsumedCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 500)
	p := testutil.SeedProduct(t, f.db, "Mug", 100, 5)
	testutil.SeedCartItem(t, f.db, ac.UserID, p, 1)

	armed := true
	require.NoError(t, f.db.Callback().Query().After("gorm:query").Register("test:consume_cart", func(d *gorm.DB) {
		if !armed || d.Statement.Table != "cart_items" {
			return
		}
		armed = false
		d.Session(&gorm.Session{NewDB: true}).Exec("DELETE FROM cart_items WHERE user_id = ?", ac.UserID)
	}))

	_, err := f.svc.Checkout(ctx, ac, redemption.CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.False(t, armed)

	assert.Equal(t, int64(500), f.balance(t, ac.UserID))
	assert.Equal(t, 5, f.stock(t, p.ID))
	var n int64
	require.NoError(t, f.db.Model(&models.Redemption{}).Count(&n).Error)
	assert.Zero(t, n)
	assert.Empty(t, f.sent.Sent())
}

func TestCheckoutStatementsCarryAttemptDeadline(t *testing.T) {
	f := newFixture(t)
	ac := f.user(t, 500)
	p := testutil.SeedProduct(t, f.db, "Mug", 100, 5)
	testutil.SeedCartItem(t, f.db, ac.UserID, p, 1)

	seen := map[string]bool{}
	record := func(d *gorm.DB) {
		_, ok := d.Statement.Context.Deadline()
		if prev, found := seen[d.Statement.Table]; found {
			ok = ok && prev
		}
		seen[d.Statement.Table] = ok
	}
	require.NoError(t, f.db.Callback().Query().Before("gorm:query").Register("test:deadline_query", record))
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:deadline_update", record))

	_, err := f.svc.Checkout(context.Background(), ac, redemption.CheckoutRequest{})
	require.NoError(t, err)

	for _, table := range []string{"points_accounts", "cart_items", "products"} {
		assert.True(t, seen[table], "statements on %s ran without the attempt deadline", table)
	}
}

func TestCheckoutLastUnitRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testutil.SeedProduct(t, f.db, "Last one", 10, 1)
	buyers := []auth.Context{f.user(t, 100), f.user(t, 100)}
	for _, b := range buyers {
		testutil.SeedCartItem(t, f.db, b.UserID, p, 1)
	}

	errs := make([]error, len(buyers))
	var wg sync.WaitGroup
	for i, b := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Checkout(ctx, b, redemption.CheckoutRequest{})
		}()
	}
	wg.Wait()

	var succeeded, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, apperr.ErrOutOfStock):
			outOfStock++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, outOfStock)
	assert.Equal(t, 0, f.stock(t, p.ID))
	assert.Equal(t, int64(190), f.balance(t, buyers[0].UserID)+f.balance(t, buyers[1].UserID))
}

func TestCheckoutOneTimeProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 100)
	p := testutil.SeedProduct(t, f.db, "Welcome kit", 10, 5, testutil.OneTime())

	testutil.SeedCartItem(t, f.db, ac.UserID, p, 1)
	res, err := f.svc.Checkout(ctx, ac, redemption.CheckoutRequest{})
	require.NoError(t, err)
	require.Len(t, res.Redemptions, 1)

	testutil.SeedCartItem(t, f.db, ac.UserID, p, 1)
	_, err = f.svc.Checkout(ctx, ac, redemption.CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrAlreadyRedeemed)
	assert.Equal(t, int64(90), f.balance(t, ac.UserID))
}

func TestCheckoutPremiumOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 100)
	p := testutil.SeedProduct(t, f.db, "Lounge pass", 10, 5, testutil.PremiumOnly())
	testutil.SeedCartItem(t, f.db, ac.UserID, p, 1)

	_, err := f.svc.Checkout(ctx, ac, redemption.CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrPremiumRequired)

	expired := f.clock.Now().Add(-time.Minute)
	lapsed := auth.Context{UserID: ac.UserID, IsPremiumActive: true, PremiumExpiry: &expired}
	_, err = f.svc.Checkout(ctx, lapsed, redemption.CheckoutRequest{})
	assert.ErrorIs(t, err, apperr.ErrPremiumRequired)

	active := auth.Context{UserID: ac.UserID, IsPremiumActive: true}
	_, err = f.svc.Checkout(ctx, active, redemption.CheckoutRequest{})
	assert.NoError(t, err)
}

func TestCheckoutRetriesClaimCodeCollision(t *testing.T) {
	codes := []string{"R-000001-AAAA", "R-000001-AAAA", "R-000002-BBBB"}
	var mu sync.Mutex
	gen := func(uuid.UUID) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	f := newFixture(t, func(o *redemption.Options) { o.NewCode = gen })
	ctx := context.Background()
	p := testutil.SeedProduct(t, f.db, "Mug", 10, 5)

	first := f.user(t, 100)
	testutil.SeedCartItem(t, f.db, first.UserID, p, 1)
	res, err := f.svc.Checkout(ctx, first, redemption.CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, "R-000001-AAAA", *res.Redemptions[0].ClaimCode)

	second := f.user(t, 100)
	testutil.SeedCartItem(t, f.db, second.UserID, p, 1)
	res, err = f.svc.Checkout(ctx, second, redemption.CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, "R-000002-BBBB", *res.Redemptions[0].ClaimCode)
	assert.Empty(t, codes)
}

func TestCheckoutInvalidatesCachedProducts(t *testing.T) {
	f := newFixture(t)
	cached := catalog.NewCachedLookup(catalog.NewStore(f.db), 16, time.Minute)
	svc := redemption.NewService(f.db, f.ledger, redemption.Options{Lookup: cached, Tx: testutil.TxOptions(), Now: f.clock.Now})

	ctx := context.Background()
	ac := f.user(t, 100)
	p := testutil.SeedProduct(t, f.db, "Mug", 10, 5)
	_, err := svc.AddToCart(ctx, ac, redemption.AddToCartRequest{ProductID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, cached.Len())

	_, err = svc.Checkout(ctx, ac, redemption.CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, cached.Len())
}

func TestListAndGetRedemptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ac := f.user(t, 100)
	for _, name := range []string{"A", "B", "C"} {
		testutil.SeedCartItem(t, f.db, ac.UserID, testutil.SeedProduct(t, f.db, name, 10, 5), 1)
	}
	res, err := f.svc.Checkout(ctx, ac, redemption.CheckoutRequest{})
	require.NoError(t, err)

	page, err := f.svc.ListRedemptions(ctx, ac.UserID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Redemptions, 2)

	id := res.Redemptions[0].ID
	got, err := f.svc.GetRedemption(ctx, ac, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	_, err = f.svc.GetRedemption(ctx, auth.Context{UserID: uuid.New()}, id)
	assert.ErrorIs(t, err, apperr.ErrRedemptionNotFound)
	_, err = f.svc.GetRedemption(ctx, auth.Context{UserID: uuid.New(), Role: auth.RoleAdmin}, id)
	assert.NoError(t, err)
}
