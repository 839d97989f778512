// Package walleterr defines the error kinds returned by the wallet engine.
// Callers match them with errors.Is and errors.As.
package walleterr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPassword is returned when the keyfile MAC does not verify.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrInvalidParameter is returned for out-of-range caller input.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrAccountNotFound is returned when no cached account matches an address.
	ErrAccountNotFound = errors.New("account not found")

	// ErrNoTransactionsFound is reported by the indexer for an address without
	// history. Read paths turn it into an empty result.
	ErrNoTransactionsFound = errors.New("no transactions found")

	// ErrInsufficientFunds is returned when a broadcast is rejected for a
	// balance shortfall.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownRemote covers any other non-success indexer or RPC response.
	ErrUnknownRemote = errors.New("unknown remote error")

	// ErrNetwork covers transport failures: timeouts, refused connections and
	// non-2xx responses.
	ErrNetwork = errors.New("network error")

	// ErrFilesystem is returned when the keystore directory cannot be read or
	// written.
	ErrFilesystem = errors.New("filesystem error")

	// ErrInvalidKeystore is returned for keyfiles that cannot be parsed or use
	// an unsupported version, KDF or cipher.
	ErrInvalidKeystore = errors.New("invalid keystore")

	// ErrAccountLocked is returned when an operation needs the private key of a
	// locked account.
	ErrAccountLocked = errors.New("account locked")
)

// RemoteError carries the raw provider payload of a failed indexer or RPC call.
type RemoteError struct {
	// Code is the provider error code, if any (JSON-RPC code or 0).
	Code int
	// Message is the provider message.
	Message string
	// Payload is the raw provider response, kept for diagnostics.
	Payload any
	// Insufficient marks a broadcast rejected for lack of funds.
	Insufficient bool
}

func (e *RemoteError) Error() string {
	if e.Insufficient {
		return fmt.Sprintf("insufficient funds: code=%d message=%q", e.Code, e.Message)
	}
	return fmt.Sprintf("remote error: code=%d message=%q", e.Code, e.Message)
}

// Is matches ErrUnknownRemote, or ErrInsufficientFunds for insufficient-funds
// rejections.
func (e *RemoteError) Is(target error) bool {
	if e.Insufficient {
		return target == ErrInsufficientFunds
	}
	return target == ErrUnknownRemote
}

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	// StatusCode is the HTTP status for non-2xx responses, 0 otherwise.
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error: http status %d", e.StatusCode)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }
