// Package httpapp provides the HTTP server for Replay.
//
//	@title						Replay API
//	@version					1.0
//	@description				Short posts with paid replies. Replying costs a micropayment negotiated over HTTP 402.
//	@description
//	@description				## Authentication
//	@description
//	@description				1. `POST /api/auth/challenge` returns a single-use challenge.
//	@description				2. personal_sign the challenge with your wallet.
//	@description				3. `POST /api/auth/verify` with `{address, challenge, signature}` returns a bearer token.
//	@description
//	@description				## Paying for a reply
//	@description
//	@description				```
//	@description				POST /api/replies             -> 402, X-PAYMENT-REQUIREMENTS: base64(requirements)
//	@description				sign EIP-3009 authorization   (exact scheme, value >= maxAmountRequired)
//	@description				POST /api/replies + X-PAYMENT -> 201, X-PAYMENT-RESPONSE: base64(settlement)
//	@description				```
//	@description
//	@description				A rejected payment answers 402 again with a `reason`:
//	@description				INVALID_PAYLOAD, INSUFFICIENT_AMOUNT, EXPIRED, NOT_YET_VALID or SETTLEMENT_FAILED.
//	@description				Reusing a settled payment answers 409 ALREADY_COMMITTED.
//
//	@contact.name				Replay
//	@license.name				MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token from /api/auth/verify
//
//	@tag.name					Posts
//	@tag.description			Free short posts, newest first.
//
//	@tag.name					Replies
//	@tag.description			Replies are paid per request. A reply exists only if its payment settled.
//
//	@tag.name					Authentication
//	@tag.description			Wallet challenge-response login.
//
//	@tag.name					Meta
//	@tag.description			Health and configuration.
package httpapp
