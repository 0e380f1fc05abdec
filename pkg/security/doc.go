// Package security provides HTTP middleware and limits shared by the webhook,
// the read API and the live feed: request ids, rate and connection limiting,
// CORS and GitHub source address checks.
package security
