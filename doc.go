// Package authenticator is a device-bound push MFA authenticator SDK. It
// enrolls this device as a cryptographic authentication factor for a user
// account, receives signed push challenges asserting a sign-in attempt, and
// produces signed proof that this device approved or denied the attempt.
//
// The SDK never presents UI. Challenges surface a consent step through a
// caller-supplied callback; the host app renders it and reports the user's
// decision.
package authenticator
