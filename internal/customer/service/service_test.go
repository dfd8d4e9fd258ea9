package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gstflow/gstflow/internal/clock"
	"github.com/gstflow/gstflow/internal/customer/domain"
	"github.com/gstflow/gstflow/internal/customer/repository"
	"github.com/gstflow/gstflow/internal/orgcontext"
)

func newFixture(t *testing.T) (domain.Service, context.Context) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&domain.Customer{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})

	orgID := node.Generate()
	return svc, orgcontext.WithOrgID(context.Background(), orgID)
}

func TestCreateCustomer(t *testing.T) {
	svc, ctx := newFixture(t)

	customer, err := svc.Create(ctx, domain.CreateCustomerRequest{
		Name:      "Bharat Retail",
		Email:     "accounts@bharatretail.in",
		GSTIN:     "27aaacb5678b1z9",
		StateCode: "27",
	})
	require.NoError(t, err)
	assert.NotZero(t, customer.ID)
	assert.Equal(t, "27AAACB5678B1Z9", customer.GSTIN)
	assert.Equal(t, "INR", customer.Currency)

	got, err := svc.GetByID(ctx, domain.GetCustomerRequest{ID: customer.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, customer.Name, got.Name)
}

func TestCreateCustomerValidation(t *testing.T) {
	svc, ctx := newFixture(t)

	cases := []struct {
		name string
		req  domain.CreateCustomerRequest
		want error
	}{
		{"missing_name", domain.CreateCustomerRequest{Email: "a@b.c", StateCode: "27"}, domain.ErrInvalidName},
		{"bad_email", domain.CreateCustomerRequest{Name: "A", Email: "nope", StateCode: "27"}, domain.ErrInvalidEmail},
		{"bad_state", domain.CreateCustomerRequest{Name: "A", Email: "a@b.c", StateCode: "277"}, domain.ErrInvalidStateCode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	_, err := svc.Create(context.Background(), domain.CreateCustomerRequest{Name: "A", Email: "a@b.c", StateCode: "27"})
	require.ErrorIs(t, err, domain.ErrInvalidOrganization)
}

func TestListCustomersScopedToOrg(t *testing.T) {
	svc, ctx := newFixture(t)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, domain.CreateCustomerRequest{
			Name:      fmt.Sprintf("Customer %d", i),
			Email:     fmt.Sprintf("c%d@example.in", i),
			StateCode: "27",
		})
		require.NoError(t, err)
	}

	resp, err := svc.List(ctx, domain.ListCustomerRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Customers, 3)

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	otherCtx := orgcontext.WithOrgID(context.Background(), node.Generate())
	resp, err = svc.List(otherCtx, domain.ListCustomerRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Customers)
}

func TestGetCustomerNotFound(t *testing.T) {
	svc, ctx := newFixture(t)

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	_, err = svc.GetByID(ctx, domain.GetCustomerRequest{ID: node.Generate().String()})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
