package checkout_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/checkout"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/delivery"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/cart-service/internal/owner"
)

// fakeStore keeps committed state and hands each attempt a scratch copy, discarded on error.
type fakeStore struct {
	lines      map[string][]cart.Line
	stock      map[string]int
	names      map[string]string
	fee        *delivery.FeeConfig
	counter    int
	highest    int
	taken      []string
	orders     []*order.Order
	insertErrs []error
	attempts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lines: map[string][]cart.Line{},
		stock: map[string]int{},
		names: map[string]string{},
	}
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx checkout.Tx) error) error {
	s.attempts++
	tx := &fakeTx{store: s, stock: map[string]int{}, counter: s.counter}
	for k, v := range s.stock {
		tx.stock[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.stock = tx.stock
	s.counter = tx.counter
	if tx.cleared != "" {
		delete(s.lines, tx.cleared)
	}
	if tx.inserted != nil {
		s.orders = append(s.orders, tx.inserted)
	}
	return nil
}

type fakeTx struct {
	store    *fakeStore
	stock    map[string]int
	counter  int
	cleared  string
	inserted *order.Order
}

func (t *fakeTx) LockCart(ctx context.Context, ownerKey string) ([]cart.Line, error) {
	return append([]cart.Line(nil), t.store.lines[ownerKey]...), nil
}

func (t *fakeTx) TakeStock(ctx context.Context, subject catalog.Subject, quantity int) (*checkout.Snapshot, bool, error) {
	t.store.taken = append(t.store.taken, subject.Key())
	available, ok := t.stock[subject.Key()]
	if !ok || available < quantity {
		return nil, false, nil
	}
	t.stock[subject.Key()] = available - quantity
	return &checkout.Snapshot{Name: t.store.names[subject.Key()]}, true, nil
}

func (t *fakeTx) ActiveDeliveryFee(ctx context.Context) (*delivery.FeeConfig, error) {
	return t.store.fee, nil
}

func (t *fakeTx) NextReference(ctx context.Context, year int) (int, error) {
	t.counter++
	return t.counter, nil
}

func (t *fakeTx) SyncReferenceCounter(ctx context.Context, prefix string, year int) error {
	if t.store.highest > t.counter {
		t.counter = t.store.highest
	}
	return nil
}

func (t *fakeTx) InsertOrder(ctx context.Context, o *order.Order) error {
	if len(t.store.insertErrs) > 0 {
		err := t.store.insertErrs[0]
		t.store.insertErrs = t.store.insertErrs[1:]
		if err != nil {
			return err
		}
	}
	o.ID = uuid.Must(uuid.NewV4())
	t.inserted = o
	return nil
}

func (t *fakeTx) ClearCart(ctx context.Context, ownerKey string) error {
	t.cleared = ownerKey
	return nil
}

type recordingPublisher struct {
	events []events.OrderPlaced
	err    error
}

func (p *recordingPublisher) PublishOrderPlaced(ctx context.Context, event events.OrderPlaced) error {
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type recordingInvalidator struct {
	subjects []catalog.Subject
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, subjects ...catalog.Subject) {
	r.subjects = append(r.subjects, subjects...)
}

var (
	buyer   = owner.User{ID: uuid.Must(uuid.FromString("123e4567-e89b-12d3-a456-426614174000"))}
	cumin   = catalog.ProductSubject{ProductID: uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440001"))}
	kit     = catalog.PackSubject{PackID: uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440002"))}
	details = order.DeliveryDetails{
		FullName:   "Amina Haddad",
		Phone:      "+33 6 12 34 56 78",
		Address:    "12 rue des Épices",
		City:       "Lyon",
		PostalCode: "69001",
	}
	fixedClock = checkout.WithClock(func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) })
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func line(subject catalog.Subject, qty int, unit, total string) cart.Line {
	return cart.Line{
		ID:        uuid.Must(uuid.NewV4()),
		OwnerKey:  buyer.Key(),
		Subject:   subject,
		Quantity:  qty,
		UnitPrice: dec(unit),
		LineTotal: dec(total),
	}
}

func seededStore() *fakeStore {
	store := newFakeStore()
	store.lines[buyer.Key()] = []cart.Line{
		line(cumin, 2, "4.00", "8.00"),
		line(kit, 1, "72.00", "72.00"),
	}
	store.stock[cumin.Key()] = 5
	store.stock[kit.Key()] = 1
	store.names[cumin.Key()] = "Cumin"
	store.names[kit.Key()] = "Tagine kit"
	store.fee = &delivery.FeeConfig{
		ID:                    uuid.Must(uuid.NewV4()),
		Amount:                dec("7.00"),
		FreeShippingThreshold: decimal.NewNullDecimal(dec("100.00")),
		IsActive:              true,
	}
	return store
}

func TestService_Checkout_PlacesOrder(t *testing.T) {
	store := seededStore()
	pub := &recordingPublisher{}
	inv := &recordingInvalidator{}
	svc := checkout.NewService(store, pub, "CMD", 3, fixedClock, checkout.WithInvalidator(inv))

	placed, err := svc.Checkout(context.Background(), buyer, details)
	require.NoError(t, err)

	assert.Equal(t, "CMD-2026-00001", placed.Reference)
	assert.Equal(t, order.StatusPending, placed.Status)
	assert.Equal(t, "80.00", placed.Subtotal.StringFixed(2))
	assert.Equal(t, "7.00", placed.DeliveryFee.StringFixed(2))
	assert.Equal(t, "87.00", placed.Total.StringFixed(2))
	assert.Equal(t, store.fee.ID, placed.DeliveryFeeID.UUID)
	assert.Equal(t, buyer.ID, placed.UserID.UUID)
	assert.Equal(t, details, placed.Delivery)

	gotNames := make([]string, 0, len(placed.Items))
	for _, item := range placed.Items {
		gotNames = append(gotNames, item.Name)
	}
	assert.ElementsMatch(t, []string{"Cumin", "Tagine kit"}, gotNames)

	assert.Equal(t, 3, store.stock[cumin.Key()])
	assert.Equal(t, 0, store.stock[kit.Key()])
	assert.Empty(t, store.lines[buyer.Key()])
	require.Len(t, store.orders, 1)

	require.Len(t, pub.events, 1)
	assert.Equal(t, placed.Reference, pub.events[0].Reference)
	assert.Len(t, inv.subjects, 2)
}

func TestService_Checkout_FreeDeliveryAboveThreshold(t *testing.T) {
	store := seededStore()
	store.lines[buyer.Key()] = []cart.Line{line(kit, 1, "120.00", "120.00")}
	svc := checkout.NewService(store, &recordingPublisher{}, "CMD", 3, fixedClock)

	placed, err := svc.Checkout(context.Background(), buyer, details)
	require.NoError(t, err)
	assert.True(t, placed.DeliveryFee.IsZero())
	assert.Equal(t, "120.00", placed.Total.StringFixed(2))
}

func TestService_Checkout_EmptyCart(t *testing.T) {
	store := seededStore()
	delete(store.lines, buyer.Key())
	pub := &recordingPublisher{}
	svc := checkout.NewService(store, pub, "CMD", 3, fixedClock)

	_, err := svc.Checkout(context.Background(), buyer, details)
	assert.ErrorIs(t, err, checkout.ErrEmptyCart)
	assert.Zero(t, store.counter, "an empty cart must not consume a reference")
	assert.Empty(t, pub.events)
}

func TestService_Checkout_InsufficientStockRollsBackEverything(t *testing.T) {
	store := seededStore()
	store.stock[kit.Key()] = 0
	kitLine := store.lines[buyer.Key()][1]
	pub := &recordingPublisher{}
	svc := checkout.NewService(store, pub, "CMD", 3, fixedClock)

	_, err := svc.Checkout(context.Background(), buyer, details)
	require.ErrorIs(t, err, checkout.ErrInsufficientStock)

	var stockErr *checkout.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	if diff := cmp.Diff([]uuid.UUID{kitLine.ID}, stockErr.Lines); diff != "" {
		t.Errorf("failing lines mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 5, store.stock[cumin.Key()], "taken stock must be restored")
	assert.Len(t, store.lines[buyer.Key()], 2, "cart must stay intact")
	assert.Empty(t, store.orders)
	assert.Empty(t, pub.events)
}

func TestService_Checkout_DeletedSubjectFailsLikeMissingStock(t *testing.T) {
	store := seededStore()
	delete(store.stock, kit.Key())
	svc := checkout.NewService(store, &recordingPublisher{}, "CMD", 3, fixedClock)

	_, err := svc.Checkout(context.Background(), buyer, details)
	assert.ErrorIs(t, err, checkout.ErrInsufficientStock)
	assert.Empty(t, store.orders)
}

func TestService_Checkout_TakesStockInSubjectOrder(t *testing.T) {
	store := seededStore()
	svc := checkout.NewService(store, &recordingPublisher{}, "CMD", 3, fixedClock)

	_, err := svc.Checkout(context.Background(), buyer, details)
	require.NoError(t, err)

	want := []string{kit.Key(), cumin.Key()}
	if kit.Key() > cumin.Key() {
		want = []string{cumin.Key(), kit.Key()}
	}
	assert.Equal(t, want, store.taken)
}

func referenceCollision() error {
	return &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: order.ReferenceConstraint}
}

func TestService_Checkout_RetriesReferenceCollision(t *testing.T) {
	store := seededStore()
	// CMD-2026-00001 already exists but the counter does not know it.
	store.highest = 1
	store.insertErrs = []error{referenceCollision(), nil}
	svc := checkout.NewService(store, &recordingPublisher{}, "CMD", 3, fixedClock)

	placed, err := svc.Checkout(context.Background(), buyer, details)
	require.NoError(t, err)
	assert.Equal(t, 2, store.attempts)
	assert.Equal(t, "CMD-2026-00002", placed.Reference)
	assert.Equal(t, 3, store.stock[cumin.Key()], "stock is taken once")
	assert.Equal(t, 2, store.counter)
}

func TestService_Checkout_ReferenceCollisionExhaustsRetries(t *testing.T) {
	store := seededStore()
	store.insertErrs = []error{referenceCollision(), referenceCollision(), referenceCollision()}
	pub := &recordingPublisher{}
	svc := checkout.NewService(store, pub, "CMD", 3, fixedClock)

	_, err := svc.Checkout(context.Background(), buyer, details)
	assert.ErrorIs(t, err, checkout.ErrOrderReferenceCollision)
	assert.Equal(t, 3, store.attempts)
	assert.Equal(t, 5, store.stock[cumin.Key()])
	assert.Empty(t, pub.events)
}

func TestService_Checkout_OtherUniqueViolationsAreNotRetried(t *testing.T) {
	store := seededStore()
	store.insertErrs = []error{&pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "orders_pkey"}}
	svc := checkout.NewService(store, &recordingPublisher{}, "CMD", 3, fixedClock)

	_, err := svc.Checkout(context.Background(), buyer, details)
	require.Error(t, err)
	assert.NotErrorIs(t, err, checkout.ErrOrderReferenceCollision)
	assert.Equal(t, 1, store.attempts)
}

func TestService_Checkout_PublishFailureDoesNotFailCheckout(t *testing.T) {
	store := seededStore()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc := checkout.NewService(store, pub, "CMD", 3, fixedClock)

	placed, err := svc.Checkout(context.Background(), buyer, details)
	require.NoError(t, err)
	assert.NotNil(t, placed)
	assert.Len(t, store.orders, 1)
}

func TestService_Checkout_AnonymousOwnerHasNoUserID(t *testing.T) {
	store := seededStore()
	session := owner.AnonymousSession{Token: uuid.Must(uuid.NewV4())}
	store.lines[session.Key()] = store.lines[buyer.Key()]
	svc := checkout.NewService(store, &recordingPublisher{}, "CMD", 3, fixedClock)

	placed, err := svc.Checkout(context.Background(), session, details)
	require.NoError(t, err)
	assert.False(t, placed.UserID.Valid)
	assert.Equal(t, session.Key(), placed.OwnerKey)
}

func TestInsufficientStockError(t *testing.T) {
	id := uuid.Must(uuid.FromString("550e8400-e29b-41d4-a716-446655440009"))
	err := error(&checkout.InsufficientStockError{Lines: []uuid.UUID{id}})

	assert.ErrorIs(t, err, checkout.ErrInsufficientStock)
	assert.Contains(t, err.Error(), id.String())
}
