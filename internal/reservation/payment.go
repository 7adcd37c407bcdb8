package reservation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"parking-slots-backend/internal/apperr"
	"parking-slots-backend/internal/model"
	"parking-slots-backend/internal/payment"
)

// PaymentQuote is a priced request together with the intent the client must confirm.
type PaymentQuote struct {
	Quote
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
}

// CreatePaymentIntent prices req and opens a payment intent for it.
// Free pools need no payment and are rejected here.
func (s *Service) CreatePaymentIntent(ctx context.Context, req Request) (*PaymentQuote, error) {
	_, q, err := s.prepare(ctx, &req)
	if err != nil {
		return nil, err
	}
	if q.AmountMinor() <= 0 {
		return nil, apperr.Invalid("totalAmount", "this booking is free and needs no payment")
	}

	in, err := s.payments.CreateIntent(ctx, q.AmountMinor(), q.Currency, map[string]string{
		"spaceId":     q.SpaceID,
		"userId":      req.UserID,
		"vehicleType": string(q.VehicleType),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Created payment intent %s for user %s: %d %s", in.ID, req.UserID, in.Amount, in.Currency)
	return &PaymentQuote{Quote: *q, PaymentIntentID: in.ID, ClientSecret: in.ClientSecret}, nil
}

// ReserveWithPayment reserves req once the payment intent has succeeded.
// Confirming the same intent twice returns the booking created the first time.
// Free bookings may omit the intent.
func (s *Service) ReserveWithPayment(ctx context.Context, req Request, intentID string) (*model.Booking, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		q, err := s.Quote(ctx, req)
		if err != nil {
			return nil, err
		}
		if q.AmountMinor() > 0 {
			return nil, apperr.Invalid("paymentIntentId", "is required for a paid booking")
		}
		return s.Reserve(ctx, req)
	}

	if existing, err := s.store.GetBookingByIntent(ctx, intentID); err == nil {
		if existing.UserID != req.UserID {
			return nil, fmt.Errorf("%w: payment %s belongs to another user", apperr.ErrForbidden, intentID)
		}
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	in, err := s.payments.RetrieveIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !in.Succeeded() {
		return nil, fmt.Errorf("%w: intent %s is %s", apperr.ErrPaymentNotSucceeded, intentID, in.Status)
	}

	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	if in.Amount < q.AmountMinor() || !strings.EqualFold(in.Currency, q.Currency) {
		return nil, apperr.Invalid("paymentIntentId", "payment of %d %s does not cover %d %s", in.Amount, in.Currency, q.AmountMinor(), q.Currency)
	}
	if sid, ok := in.Metadata["spaceId"]; ok && sid != req.SpaceID {
		return nil, apperr.Invalid("paymentIntentId", "payment was made for another parking space")
	}

	b, err := s.reserve(ctx, req, &intentID)
	if errors.Is(err, apperr.ErrDuplicateID) {
		// A concurrent confirm of the same intent won the insert.
		return s.store.GetBookingByIntent(ctx, intentID)
	}
	if errors.Is(err, apperr.ErrCapacityExhausted) {
		log.Printf("Payment %s succeeded but %s/%s is full; refund required", intentID, req.SpaceID, req.VehicleType)
	}
	return b, err
}

// OvertimeQuote is the intent a client confirms to settle overtime at checkout.
type OvertimeQuote struct {
	BookingID       string  `json:"bookingId"`
	OvertimeCharges float64 `json:"overtimeCharges"`
	Currency        string  `json:"currency"`
	PaymentIntentID string  `json:"paymentIntentId"`
	ClientSecret    string  `json:"clientSecret"`
}

// CreateOvertimeIntent opens a payment intent for overtime on a parked booking.
// The intent is bound to the booking and cannot settle any other checkout.
func (s *Service) CreateOvertimeIntent(ctx context.Context, actor Actor, bookingID string, overtime float64) (*OvertimeQuote, error) {
	if !(overtime > 0) || math.IsInf(overtime, 1) {
		return nil, apperr.Invalid("overtimeCharges", "must be a positive amount")
	}
	b, err := s.Booking(ctx, actor, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BookingConfirmed || b.ParkingStatus != model.Parked {
		return nil, fmt.Errorf("%w: booking %s is %s/%s, no overtime to pay", apperr.ErrInvalidTransition, b.ID, b.Status, b.ParkingStatus)
	}

	in, err := s.payments.CreateIntent(ctx, payment.ToMinorUnits(overtime), s.currency, map[string]string{
		"bookingId": b.ID,
		"userId":    b.UserID,
		"purpose":   "overtime",
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Created overtime intent %s for booking %s: %d %s", in.ID, b.ID, in.Amount, in.Currency)
	return &OvertimeQuote{
		BookingID:       b.ID,
		OvertimeCharges: overtime,
		Currency:        s.currency,
		PaymentIntentID: in.ID,
		ClientSecret:    in.ClientSecret,
	}, nil
}

// checkOvertimePayment verifies that intentID is a captured overtime payment
// made for b that covers overtime.
func (s *Service) checkOvertimePayment(ctx context.Context, b *model.Booking, overtime float64, intentID string) error {
	if overtime <= 0 {
		return nil
	}
	if intentID == "" {
		return apperr.Invalid("paymentIntentId", "is required when overtime is charged")
	}
	if b.PaymentIntentID != nil && *b.PaymentIntentID == intentID {
		return apperr.Invalid("paymentIntentId", "is the booking's own reservation payment")
	}
	in, err := s.payments.RetrieveIntent(ctx, intentID)
	if err != nil {
		return err
	}
	if !in.Succeeded() {
		return fmt.Errorf("%w: intent %s is %s", apperr.ErrPaymentNotSucceeded, intentID, in.Status)
	}
	if in.Metadata["bookingId"] != b.ID {
		return apperr.Invalid("paymentIntentId", "payment was not made for overtime on booking %s", b.ID)
	}
	if in.Amount < payment.ToMinorUnits(overtime) || !strings.EqualFold(in.Currency, s.currency) {
		return apperr.Invalid("paymentIntentId", "payment of %d %s does not cover overtime %.2f %s", in.Amount, in.Currency, overtime, s.currency)
	}
	return nil
}
