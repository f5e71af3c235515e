// Package google provides shared plumbing for Google API content
// sources: service construction from OAuth2 token sources, client-side
// rate limiting and error translation.
package google
