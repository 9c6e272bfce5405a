package domain

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors: compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Authorisation errors
var (
	// ErrUnauthorized is returned when a principal other than the authority
	// calls an authority-only entry point, or when an untrusted caller relays
	// a transfer notification.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReentrantCall is returned when a trade path is entered again before
	// the enclosing trade on the same market maker has returned.
	ErrReentrantCall = errors.New("reentrant call into market maker")

	// ErrInvalidCredentials is returned by the authority login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenInvalid is returned for a malformed or expired JWT.
	ErrTokenInvalid = errors.New("token invalid or expired")
)

// Trade errors
var (
	// ErrTradingDisabled is matched by every *TradingDisabledError.
	ErrTradingDisabled = errors.New("trading disabled")

	// ErrInsufficientShareReserve is returned when the market maker holds
	// fewer shares than a buy or distribution needs.
	ErrInsufficientShareReserve = errors.New("insufficient share reserve")

	// ErrInsufficientPaymentReserve is returned when the market maker holds
	// less payment token than a sell must pay out.
	ErrInsufficientPaymentReserve = errors.New("insufficient payment reserve")

	// ErrNegativeQuote is returned when a trade would take the per-share price
	// below zero.
	ErrNegativeQuote = errors.New("quote would become negative")

	// ErrUnsupportedToken is returned when a notification names a token that
	// is neither the share token nor the payment token, and when a withdrawal
	// names the share token.
	ErrUnsupportedToken = errors.New("unsupported token")
)

// Input errors
var (
	// ErrLengthMismatch is returned when the recipients, amounts and refs of a
	// distribution differ in length.
	ErrLengthMismatch = errors.New("recipients, amounts and refs differ in length")

	// ErrInvalidPrice is returned for a negative or fractional price, or when
	// shares are requested for a payment while the price is zero.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrInvalidAmount is returned for a negative or fractional token amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRecipient is returned when reserve value is addressed to the
	// market maker itself.
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrArithmeticOverflow is returned when a computation leaves the 256-bit
	// unsigned range token amounts live in.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
)

// Storage errors
var (
	// ErrStateNotFound is returned when the market maker state has not been
	// initialised in the ledger store.
	ErrStateNotFound = errors.New("market maker state not found")
)

// ──────────────────────────────────────────────────────────────────────────────
// TradingDisabledError
// ──────────────────────────────────────────────────────────────────────────────

// TradingDisabledError reports which direction the gate refused.
type TradingDisabledError struct {
	Direction Direction
}

func (e *TradingDisabledError) Error() string {
	if e.Direction == DirectionSell {
		return "selling disabled"
	}
	return "buying disabled"
}

// Is makes errors.Is(err, ErrTradingDisabled) hold for every direction.
func (e *TradingDisabledError) Is(target error) bool {
	return target == ErrTradingDisabled
}

// TradingDisabledDirection returns the refused direction when err carries a
// *TradingDisabledError.
func TradingDisabledDirection(err error) (Direction, bool) {
	var tde *TradingDisabledError
	if errors.As(err, &tde) {
		return tde.Direction, true
	}
	return "", false
}

// overflowf wraps ErrArithmeticOverflow with the operation that overflowed.
func overflowf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrArithmeticOverflow, fmt.Sprintf(format, args...))
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsAuthError returns true for authorisation failures.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrTokenInvalid)
}

// IsTradeRejected returns true for errors that reject a well-formed trade
// because of market maker state (gate, reserves, price range, reentrancy).
// Use this to translate engine errors to HTTP 409 / 422 responses.
func IsTradeRejected(err error) bool {
	rejected := []error{
		ErrTradingDisabled,
		ErrInsufficientShareReserve,
		ErrInsufficientPaymentReserve,
		ErrNegativeQuote,
		ErrReentrantCall,
	}
	for _, target := range rejected {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsInvalidInput returns true for malformed requests.
func IsInvalidInput(err error) bool {
	invalid := []error{
		ErrLengthMismatch,
		ErrInvalidPrice,
		ErrInvalidAmount,
		ErrInvalidRecipient,
		ErrArithmeticOverflow,
		ErrUnsupportedToken,
	}
	for _, target := range invalid {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
