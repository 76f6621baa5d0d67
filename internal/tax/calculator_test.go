package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/models"
)

func kenya() *Calculator {
	return NewCalculator(models.CountrySettings{
		Country: models.Country{Code: "KE", Currency: "KES", TaxRate: decimal.RequireFromString("16.00")},
		Config: models.CountryConfiguration{
			PlatformFeePercentage: decimal.RequireFromString("3.00"),
			MinPlatformFee:        decimal.RequireFromString("50.00"),
			MinPayoutAmount:       decimal.RequireFromString("500.00"),
		},
	})
}

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Equal(t, want, got.StringFixed(2))
}

func TestVATBreakdown(t *testing.T) {
	c := kenya()

	t.Run("BusinessAdditive", func(t *testing.T) {
		b := c.VATBreakdown(money("1000"), true)
		assertMoney(t, "160.00", b.VATAmount)
		assertMoney(t, "840.00", b.NetAmount)
		assert.True(t, b.VATRate.Equal(money("0.16")))
	})

	t.Run("ConsumerInclusive", func(t *testing.T) {
		b := c.VATBreakdown(money("1000"), false)
		assertMoney(t, "137.93", b.VATAmount)
		assertMoney(t, "862.07", b.NetAmount)
	})

	t.Run("Deterministic", func(t *testing.T) {
		first := c.VATBreakdown(money("2499.99"), false)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, c.VATBreakdown(money("2499.99"), false))
		}
	})
}

func TestWithholdingTax(t *testing.T) {
	c := kenya()

	resident := c.WithholdingTax(money("1000"), true)
	assertMoney(t, "50.00", resident.WithholdingTax)
	assertMoney(t, "950.00", resident.NetPayout)
	assert.True(t, resident.Rate.Equal(money("0.05")))

	nonResident := c.WithholdingTax(money("1000"), false)
	assertMoney(t, "200.00", nonResident.WithholdingTax)
	assertMoney(t, "800.00", nonResident.NetPayout)
}

func TestReceiptBreakdown(t *testing.T) {
	c := kenya()

	r := c.ReceiptBreakdown(money("1000"), money("100"))
	assertMoney(t, "1000.00", r.TicketPrice)
	assertMoney(t, "100.00", r.ServiceFee)
	assertMoney(t, "13.79", r.VAT.Amount)
	assert.Equal(t, "16.00%", r.VAT.Rate)
	assert.Equal(t, "service_fee", r.VAT.On)
	assertMoney(t, "1086.21", r.Subtotal)
	assertMoney(t, "1100.00", r.Total)
	assert.Equal(t, "KES", r.Currency)

	t.Run("TicketPriceNeverTaxed", func(t *testing.T) {
		cheap := c.ReceiptBreakdown(money("10"), money("100"))
		dear := c.ReceiptBreakdown(money("100000"), money("100"))
		assert.True(t, cheap.VAT.Amount.Equal(dear.VAT.Amount))

		noFee := c.ReceiptBreakdown(money("1000"), decimal.Zero)
		assertMoney(t, "0.00", noFee.VAT.Amount)
		assertMoney(t, "1000.00", noFee.Subtotal)
	})
}

func TestPlatformFee(t *testing.T) {
	c := kenya()
	assertMoney(t, "50.00", c.PlatformFee(money("1000")))
	assertMoney(t, "300.00", c.PlatformFee(money("10000")))
}

func TestPayoutBreakdown(t *testing.T) {
	c := kenya()

	t.Run("Resident", func(t *testing.T) {
		p, err := c.PayoutBreakdown(money("10000"), true)
		require.NoError(t, err)
		assertMoney(t, "300.00", p.PlatformFee)
		assertMoney(t, "9700.00", p.Taxable)
		assertMoney(t, "485.00", p.WithholdingTax)
		assertMoney(t, "9215.00", p.NetPayout)
		assert.Equal(t, "KES", p.Currency)
	})

	t.Run("BelowMinimum", func(t *testing.T) {
		_, err := c.PayoutBreakdown(money("500"), true)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})

	t.Run("NonPositive", func(t *testing.T) {
		_, err := c.PayoutBreakdown(decimal.Zero, true)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	})
}
