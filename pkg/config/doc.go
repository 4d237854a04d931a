/*
Package config resolves the deployment configuration for one
(organization, site, locale-set).

Values layer defaults → environment variables → caller params → an
optional YAML deployment file, last write wins. Derived values fill in
afterwards: ContentURL from org and site, StoreURL from ContentURL, and
the admin API host. Validate enforces the hard preconditions (required
URLs, a product page format with at least one substitution token, complete
IMS credentials) and is called at the top of every run so a bad deployment
fails fast with a field-level error.

Durations in YAML accept Go syntax ("90s", "5m") or bare integers meaning
seconds.
*/
package config
