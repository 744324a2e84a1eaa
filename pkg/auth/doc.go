// Package auth implements API token generation, storage, and validation.
//
// Tokens take the form cdk_<base64url(32 random bytes)>. The plaintext is
// shown to the caller exactly once at creation; only the SHA256 hash is
// persisted, and a short display prefix identifies tokens in listings.
// Tokens carry scopes that gate account, client, and billing operations.
package auth
