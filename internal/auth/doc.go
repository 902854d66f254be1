// Package auth issues and validates operator API tokens.
//
// Tokens are HS256 JWTs carrying a subject and a role. There is no user
// database: tokens are minted on the device with `transponder token` and
// checked by signature and expiry only.
//
// Roles:
//   - viewer: read station state, message history and audio
//   - operator: everything a viewer can do plus retrying failed uploads
package auth
