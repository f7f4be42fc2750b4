// Package errors provides typed error values for GophVault.
//
// Callers match failures with errors.Is rather than string comparison:
//
//	plain, err := envelope.Decrypt(env, key)
//	if errors.Is(err, verrors.ErrPaddingInvalid) {
//	    // wrong key or corrupted ciphertext
//	}
//
// # Error Categories
//
//   - Crypto errors: ErrMalformedEnvelope, ErrPaddingInvalid, ErrInvalidKeyLength
//   - Storage errors: ErrStorageUnavailable, ErrStorageCorrupt, ErrStorageWriteFailed
//   - Network errors: ErrOffline, ErrTimeout, *ServerError
//   - Rate limiting: ErrRateLimited, *RateLimitError
//   - Session errors: ErrNoSession, ErrSessionClosed
//
// Crypto and storage errors are fatal to the single call and must be shown to
// the user. Network and rate-limit errors are recoverable on the next pass.
package errors
