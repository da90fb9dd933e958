// Package session implements single-active-session enforcement.
//
// Every account has at most one authoritative session identifier. A login
// registers a new identifier through the Registrar, which atomically
// supersedes whatever was authoritative before. Clients poll the Validator
// with their identifier; a superseded caller gets Kicked=true and must
// re-authenticate.
//
// Persistence is abstracted by Store. Two shapes exist:
//   - table mode keeps a history of session records with liveness timestamps
//   - pointer mode keeps only last_session_id on the account record
//
// Probe picks the shape at startup and FallbackStore downgrades from table
// to pointer mode if the history table disappears at runtime.
//
// Credential verification and token issuance are out of scope here; callers
// pass an already verified Principal.
package session
