package coupon

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/xenking/coupon-engine/internal/domain/coupon"

// Metrics records coupon engine instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	validations  metric.Int64Counter
	applications metric.Int64Counter
	discount     metric.Float64Histogram
}

// NewMetrics registers the coupon instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)

	validations, err := meter.Int64Counter("coupon.validations",
		metric.WithDescription("Coupon validations by result and rejection reason"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "validations counter")
	}
	applications, err := meter.Int64Counter("coupon.applications",
		metric.WithDescription("Coupons applied to orders"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "applications counter")
	}
	discount, err := meter.Float64Histogram("coupon.discount.amount",
		metric.WithDescription("Discount granted per application, shipping included"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "discount histogram")
	}

	return &Metrics{
		validations:  validations,
		applications: applications,
		discount:     discount,
	}, nil
}

func (m *Metrics) recordValidation(ctx context.Context, err error) {
	if m == nil {
		return
	}
	result, reason := "accepted", ""
	if err != nil {
		result = "rejected"
		r, ok := ReasonOf(err)
		if !ok {
			result, r = "error", "internal"
		}
		reason = string(r)
	}
	m.validations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("reason", reason),
	))
}

func (m *Metrics) recordApplication(ctx context.Context, rec *OrderCouponRecord) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", string(rec.DiscountType)))
	m.applications.Add(ctx, 1, attrs)
	m.discount.Record(ctx, rec.DiscountAmount.Add(rec.ShippingDiscount).InexactFloat64(), attrs)
}
