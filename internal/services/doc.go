// Package services implements the Label Studio REST client used by the import and export jobs.
//
// # Credentials
//
// Label Studio issues a long-lived Personal Access Token, which is a JWT refresh token. [TokenCache] exchanges it
// for short-lived access tokens via POST /api/token/refresh (falling back to the trailing-slash path on 404) and caches
// each one until 30 seconds before its exp claim. Tokens without a readable exp are cached for 60 seconds.
//
// [TokenCache] also satisfies [oauth2.TokenSource], so [NewAuthorizedClient] can hand an authenticated
// [http.Client] to [APIService] for raw requests.
//
// # Client
//
// [LabelStudio] wraps go-resty. Every call sets the bearer token, JSON content headers and a User-Agent, and carries
// its own deadline. A 401 forces one token refresh and a single retry.
//
// The two discovery calls used by the import fallback ([LabelStudio.MaxTaskID] and [LabelStudio.ListNewTaskIDs])
// degrade to "nothing found" on a read timeout. Every other call propagates transport errors.
//
// # Error Handling
//
//   - [HTTPError] : non-2xx response, unwraps to [shared.ErrAPIRequest]
//   - [shared.ErrInvalidCredentials] : refresh credential is not a JWT
//   - [shared.ErrImportPollExhausted] : async import still pending after the poll budget
//
// # Import Responses
//
// [ExtractCreatedTaskIDs] understands the response shapes different Label Studio versions return for a bulk import.
// [ImportJobID] reads the {"import": n} handle returned by asynchronous imports.
package services
