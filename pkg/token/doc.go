/*
Package token manages IMS access tokens and validates admin API tokens.

The Manager exchanges client credentials for an access token at the IMS
endpoint, caches it in the KV store so it survives process restarts, and
refreshes early within a safety buffer of expiry. Concurrent refreshes
collapse into a single request via singleflight.

ValidateAdminToken performs local, signature-free sanity checks on the
configured admin API token: parseability, expiry, issuer and role claims.
It exists for the CLI's token validate command, not as a security
boundary; the admin API is the authority on token acceptance.
*/
package token
