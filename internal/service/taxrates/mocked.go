package taxrates

import (
	"context"

	"go.uber.org/zap"

	"github.com/semilimes/sgateway/internal/gateway"
	"github.com/semilimes/sgateway/pkg/json"
)

// avataxSandboxCapture is a SalesOrder reply recorded against the AvaTax
// sandbox. The mocked provider replays it, so the whole document is kept
// even though the parser only reads totalTax and lines.
const avataxSandboxCapture = `{
	"id": 0, "code": "1", "companyId": 0, "date": "2017-11-19", "paymentDate": "2017-11-19",
	"status": "Temporary", "type": "SalesOrder", "currencyCode": "USD", "customerVendorCode": "1",
	"reconciled": false, "totalAmount": 100.0, "totalExempt": 100.0, "totalTax": 0.0,
	"totalTaxable": 0.0, "totalTaxCalculated": 0.0, "adjustmentReason": "NotAdjusted", "locked": false,
	"version": 1, "exchangeRateEffectiveDate": "2017-11-19", "exchangeRate": 1.0,
	"isSellerImporterOfRecord": false, "modifiedDate": "2017-11-19T16:02:56.8956656Z",
	"modifiedUserId": 306184, "taxDate": "0001-01-01T00:00:00",
	"lines": [
		{"id": 0, "transactionId": 0, "lineNumber": "1", "discountAmount": 0.0, "exemptAmount": 100.0,
		 "exemptCertId": 0, "isItemTaxable": true, "lineAmount": 100.0, "quantity": 1.0,
		 "reportingDate": "2017-11-19", "tax": 0.0, "taxableAmount": 0.0, "taxCalculated": 0.0,
		 "taxCode": "P0000000", "taxCodeId": 8087, "taxDate": "2017-11-19", "taxIncluded": false,
		 "details": [
			{"id": 0, "transactionLineId": 0, "transactionId": 0, "country": "US", "region": "FL",
			 "exemptAmount": 0.0, "jurisCode": "12", "jurisName": "FLORIDA", "stateAssignedNo": "",
			 "jurisType": "STA", "nonTaxableAmount": 100.0, "rate": 0.0, "tax": 0.0, "taxableAmount": 0.0,
			 "taxType": "Sales", "taxName": "FL STATE TAX", "taxAuthorityTypeId": 45, "taxCalculated": 0.0,
			 "rateType": "General", "rateTypeCode": "G"}]}
	],
	"addresses": [
		{"id": 0, "transactionId": 0, "boundaryLevel": "Address", "line1": "351 30th Street NE",
		 "line2": "", "line3": "", "city": "Ruskin", "region": "FL", "postalCode": "33570",
		 "country": "US", "taxRegionId": 2058754, "latitude": "27.719844", "longitude": "-82.393862"},
		{"id": 0, "transactionId": 0, "boundaryLevel": "Zip9",
		 "line1": "1910 E Central Avenue, Southgate Building 3", "line2": "", "line3": "",
		 "city": "San Bernardino", "region": "CA", "postalCode": "92408-0123", "country": "US",
		 "taxRegionId": 2128333, "latitude": "34.085905", "longitude": "-117.245905"}
	],
	"summary": [
		{"country": "US", "region": "FL", "jurisType": "State", "jurisCode": "12", "jurisName": "FLORIDA",
		 "taxAuthorityType": 45, "stateAssignedNo": "", "taxType": "Sales", "taxName": "FL STATE TAX",
		 "rateType": "General", "taxable": 0.0, "rate": 0.0, "tax": 0.0, "taxCalculated": 0.0,
		 "nonTaxable": 100.0, "exemption": 0.0}
	]
}`

// Mocked replays the sandbox capture through the real response parser.
type Mocked struct {
	*gateway.BaseProvider
}

// NewMocked builds the mocked tax provider.
func NewMocked(log *zap.Logger) *Mocked {
	p := &Mocked{BaseProvider: gateway.NewBaseProvider("_mocked_", "Mocked", log)}
	p.Handle("taxes_for_sale", p.taxesForSale)
	return p
}

// SupportedCountries mirrors the AvaTax coverage, so the mock can stand in
// for it under the domestic sale strategy.
func (p *Mocked) SupportedCountries() []string {
	return []string{"US"}
}

func (p *Mocked) taxesForSale(context.Context, interface{}) (interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(avataxSandboxCapture), &doc); err != nil {
		return nil, err
	}
	return parseAvataxTaxes(doc), nil
}
