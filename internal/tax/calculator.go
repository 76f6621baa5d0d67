// Package tax computes VAT, withholding, platform fees and payouts for a
// country's rules. Every function is pure over its explicit inputs.
package tax

import (
	"github.com/shopspring/decimal"

	"github.com/deevents/backend/internal/apperr"
	"github.com/deevents/backend/internal/models"
)

var (
	hundred = decimal.NewFromInt(100)

	// ResidentWithholdingRate applies to payouts to resident organizers.
	ResidentWithholdingRate = decimal.RequireFromString("0.05")
	// NonResidentWithholdingRate applies to payouts to non-resident organizers.
	NonResidentWithholdingRate = decimal.RequireFromString("0.20")
)

// VATBreakdown is the result of VATBreakdown.
type VATBreakdown struct {
	VATAmount decimal.Decimal `json:"vat_amount"`
	NetAmount decimal.Decimal `json:"net_amount"`
	VATRate   decimal.Decimal `json:"vat_rate"`
}

// Withholding is the result of WithholdingTax.
type Withholding struct {
	WithholdingTax decimal.Decimal `json:"withholding_tax"`
	NetPayout      decimal.Decimal `json:"net_payout"`
	Rate           decimal.Decimal `json:"rate"`
}

// ReceiptVAT is the VAT line of a receipt.
type ReceiptVAT struct {
	Amount decimal.Decimal `json:"amount"`
	Rate   string          `json:"rate"`
	On     string          `json:"on"`
}

// Receipt is the customer-facing breakdown of a ticket purchase.
type Receipt struct {
	TicketPrice decimal.Decimal `json:"ticket_price"`
	ServiceFee  decimal.Decimal `json:"service_fee"`
	VAT         ReceiptVAT      `json:"vat"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
}

// Payout is the organizer-facing breakdown of a disbursement.
type Payout struct {
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	Taxable         decimal.Decimal `json:"taxable_amount"`
	WithholdingTax  decimal.Decimal `json:"withholding_tax"`
	WithholdingRate decimal.Decimal `json:"withholding_rate"`
	NetPayout       decimal.Decimal `json:"net_payout"`
	Currency        string          `json:"currency"`
}

// Calculator holds the rates of one country. It has no other state.
type Calculator struct {
	currency       string
	vatRate        decimal.Decimal // fraction
	platformFee    decimal.Decimal // fraction
	minPlatformFee decimal.Decimal
	minPayout      decimal.Decimal
}

// NewCalculator builds a Calculator from country settings. Percentages are stored as 16.00 and 3.00.
func NewCalculator(s models.CountrySettings) *Calculator {
	return &Calculator{
		currency:       s.Country.Currency,
		vatRate:        s.Country.TaxRate.Div(hundred),
		platformFee:    s.Config.PlatformFeePercentage.Div(hundred),
		minPlatformFee: s.Config.MinPlatformFee,
		minPayout:      s.Config.MinPayoutAmount,
	}
}

// Currency returns the ISO currency the calculator reports in.
func (c *Calculator) Currency() string { return c.currency }

// VATRate returns the VAT rate as a fraction.
func (c *Calculator) VATRate() decimal.Decimal { return c.vatRate }

// VATBreakdown splits amount into VAT and net. A registered business adds VAT
// on top of the amount; a consumer price already includes it.
func (c *Calculator) VATBreakdown(amount decimal.Decimal, isBusiness bool) VATBreakdown {
	var vat decimal.Decimal
	if isBusiness {
		vat = amount.Mul(c.vatRate)
	} else {
		vat = inclusiveVAT(amount, c.vatRate)
	}
	return VATBreakdown{
		VATAmount: round(vat),
		NetAmount: round(amount.Sub(vat)),
		VATRate:   c.vatRate,
	}
}

// WithholdingTax deducts the flat resident or non-resident rate.
func (c *Calculator) WithholdingTax(amount decimal.Decimal, isResident bool) Withholding {
	rate := NonResidentWithholdingRate
	if isResident {
		rate = ResidentWithholdingRate
	}
	wht := amount.Mul(rate)
	return Withholding{
		WithholdingTax: round(wht),
		NetPayout:      round(amount.Sub(wht)),
		Rate:           rate,
	}
}

// ReceiptBreakdown levies VAT on the service fee only, treating the fee as
// VAT-inclusive. The ticket price is never taxed here.
func (c *Calculator) ReceiptBreakdown(ticketPrice, serviceFee decimal.Decimal) Receipt {
	vatOnService := inclusiveVAT(serviceFee, c.vatRate)
	netServiceFee := serviceFee.Sub(vatOnService)
	return Receipt{
		TicketPrice: round(ticketPrice),
		ServiceFee:  round(serviceFee),
		VAT: ReceiptVAT{
			Amount: round(vatOnService),
			Rate:   c.vatRate.Mul(hundred).StringFixed(2) + "%",
			On:     "service_fee",
		},
		Subtotal: round(ticketPrice.Add(netServiceFee)),
		Total:    round(ticketPrice.Add(serviceFee)),
		Currency: c.currency,
	}
}

// PlatformFee is the percentage fee on amount, floored at the country minimum.
func (c *Calculator) PlatformFee(amount decimal.Decimal) decimal.Decimal {
	return round(decimal.Max(amount.Mul(c.platformFee), c.minPlatformFee))
}

// PayoutBreakdown deducts the platform fee and then withholding from gross.
// It fails when the resulting net is below the country's minimum payout.
func (c *Calculator) PayoutBreakdown(gross decimal.Decimal, isResident bool) (Payout, error) {
	if !gross.IsPositive() {
		return Payout{}, apperr.FieldValidation("amount", "Amount must be greater than zero.")
	}
	fee := c.PlatformFee(gross)
	taxable := gross.Sub(fee)
	wht := c.WithholdingTax(taxable, isResident)
	p := Payout{
		GrossAmount:     round(gross),
		PlatformFee:     fee,
		Taxable:         round(taxable),
		WithholdingTax:  wht.WithholdingTax,
		WithholdingRate: wht.Rate,
		NetPayout:       wht.NetPayout,
		Currency:        c.currency,
	}
	if p.NetPayout.LessThan(c.minPayout) {
		return p, apperr.FieldValidation("amount",
			"Net payout is below the minimum payout of "+c.minPayout.StringFixed(2)+" "+c.currency+".")
	}
	return p, nil
}

func inclusiveVAT(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(1).Add(rate))
}

// round uses half-to-even at 2dp to match the ledger.
func round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}
